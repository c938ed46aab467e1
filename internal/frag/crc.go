package frag

import (
	"hash/crc64"
	"io"
	"os"
)

// table is the ISO polynomial table, a common CRC-64 variant (CRC-64/XZ).
var table = crc64.MakeTable(crc64.ISO)

// fileCRC64 computes the CRC64 of the file at path without loading it
// fully into memory.
func fileCRC64(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc64.New(table)
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
