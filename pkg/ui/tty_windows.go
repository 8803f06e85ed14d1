//go:build windows

package ui

import (
	"io"
	"os"
)

// OpenTTY opens the console input, for when stdin is a pipe.
func OpenTTY() (io.ReadWriteCloser, error) {
	return os.OpenFile("CONIN$", os.O_RDWR, 0)
}
