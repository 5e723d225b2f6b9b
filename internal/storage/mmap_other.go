//go:build !unix

package storage

import "os"

// mapFile returns no mapping; MappedStore then reads through the file.
func mapFile(f *os.File, size int64) ([]byte, error) {
	return nil, nil
}

func unmapFile(data []byte) error {
	return nil
}
