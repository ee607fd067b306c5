//go:build !linux

package focus

import "errors"

func platformMinimise(hwnd uintptr) error {
	return errors.New("focus: window minimise unsupported on this platform")
}
