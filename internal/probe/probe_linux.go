//go:build linux

package probe

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v3/process"
)

type linuxProbe struct{}

func newPlatformProbe() Probe { return linuxProbe{} }

// IsLocked asks logind whether the active session is locked. Missing
// loginctl (no systemd-logind) degrades to "not locked" rather than an
// error, matching the probe's "cannot be read ⇒ none" contract.
func (linuxProbe) IsLocked() bool {
	out, err := exec.Command("loginctl", "show-session", "self", "-p", "LockedHint").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "LockedHint=yes"
}

// IdleSeconds shells out to xprintidle, which reports idle time in
// milliseconds on X11 desktops. Absence of the tool yields 0 (not idle)
// rather than an error.
func (linuxProbe) IdleSeconds() float64 {
	out, err := exec.Command("xprintidle").Output()
	if err != nil {
		return 0
	}
	ms, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return ms / 1000.0
}

func (linuxProbe) ActiveWindow() (*Window, error) {
	id, err := exec.Command("xdotool", "getactivewindow").Output()
	if err != nil {
		return nil, fmt.Errorf("active window unavailable: %w", err)
	}
	winID := strings.TrimSpace(string(id))
	if winID == "" {
		return nil, fmt.Errorf("active window unavailable: empty id")
	}

	title, _ := exec.Command("xdotool", "getwindowname", winID).Output()
	pidOut, _ := exec.Command("xdotool", "getwindowpid", winID).Output()

	hwnd, _ := strconv.ParseUint(winID, 10, 64)
	pid, _ := strconv.Atoi(strings.TrimSpace(string(pidOut)))

	w := &Window{
		Title: strings.TrimSpace(string(title)),
		PID:   pid,
		HWND:  uintptr(hwnd),
	}

	if pid > 0 {
		if proc, err := gopsproc.NewProcess(int32(pid)); err == nil {
			if name, err := proc.Name(); err == nil {
				w.ProcessName = name
			}
			if exe, err := proc.Exe(); err == nil {
				w.ProcessPath = exe
			}
			if strings.Contains(strings.ToLower(w.ProcessName), "chrome") {
				w.BrowserProfile = browserProfileDirective(proc)
			}
		}
	}

	return w, nil
}

// browserProfileDirective reads a --profile-directory=... argument off the
// process, falling back to its parent when the process itself does not
// carry one (the renderer/tab process is usually a child of the browser's
// main process, which owns the flag). Defaults to "Default".
func browserProfileDirective(proc *gopsproc.Process) string {
	if v, ok := profileFromCmdline(proc); ok {
		return v
	}
	if ppid, err := proc.Ppid(); err == nil && ppid > 0 {
		if parent, err := gopsproc.NewProcess(ppid); err == nil {
			if v, ok := profileFromCmdline(parent); ok {
				return v
			}
		}
	}
	return "Default"
}

func profileFromCmdline(proc *gopsproc.Process) (string, bool) {
	args, err := proc.CmdlineSlice()
	if err != nil {
		return "", false
	}
	const flag = "--profile-directory="
	for _, a := range args {
		if strings.HasPrefix(a, flag) {
			return strings.Trim(strings.TrimPrefix(a, flag), `"`), true
		}
	}
	return "", false
}
