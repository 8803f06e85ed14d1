//go:build !windows

package ui

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// OpenTTY opens the controlling terminal, for when stdin is a pipe.
func OpenTTY() (io.ReadWriteCloser, error) {
	f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "could not open terminal")
	}
	return f, nil
}
