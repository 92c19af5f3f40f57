//go:build !unix

package cog

import (
	"errors"
	"os"
)

// mmapFile is unavailable here; Open falls back to reading the whole file.
func mmapFile(_ *os.File, _ int) ([]byte, error) {
	return nil, errors.New("memory mapping is not supported on this platform")
}

func munmapFile(_ []byte) error {
	return nil
}
