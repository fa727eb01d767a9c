//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package term

import "errors"

func New() (*Terminal, error) {
	return nil, errors.New("terminal backend is not supported on this platform")
}
