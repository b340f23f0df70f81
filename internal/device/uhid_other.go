//go:build !linux

package device

import "io"

func openUHID(path string) (io.ReadWriteCloser, error) {
	return nil, ErrUnsupported
}
