//go:build linux

package focus

import (
	"fmt"
	"os/exec"
	"strconv"
)

// platformMinimise shells out to xdotool, the same exec.Command idiom used
// elsewhere in this codebase to drive desktop tooling that has no cgo-free
// Go binding.
func platformMinimise(hwnd uintptr) error {
	id := strconv.FormatUint(uint64(hwnd), 10)
	out, err := exec.Command("xdotool", "windowminimize", id).CombinedOutput()
	if err != nil {
		return fmt.Errorf("xdotool windowminimize: %w: %s", err, out)
	}
	return nil
}
