// Package digest implements the JSON codec for the three persisted record
// types: UploadIntent, DownloadIntent and FragmentationDigest. All three are
// self-describing JSON; unknown fields are rejected so that a malformed or
// foreign-schema intent fails fast as zerr.IntentParse rather than silently
// losing data.
package digest

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/zfsd-project/zfsd/internal/zerr"
)

// UploadIntent is a user request to publish Path under logical Key,
// fragmenting into blocks of FragmentSize bytes.
type UploadIntent struct {
	Path         string `json:"path"`
	Key          string `json:"key"`
	FragmentSize uint   `json:"fragment_size"`
}

// DownloadIntent is a user request to retrieve logical Key into local Path.
// Pace is a per-fragment inter-arrival delay hint in milliseconds and may be
// zero.
type DownloadIntent struct {
	Key  string `json:"key"`
	Path string `json:"path"`
	Pace uint   `json:"pace"`
}

// FragmentationDigest is emitted by the fragmenter and consumed by the
// defragmenter and the download sanitizer. Name equals the logical key; Crc
// is the CRC64 of the whole original file; Fragments is the number of
// blocks (ceiling of Size/FragmentSize, minimum 1).
type FragmentationDigest struct {
	Name         string `json:"name"`
	Size         uint64 `json:"size"`
	Crc          uint64 `json:"crc"`
	FragmentSize uint   `json:"fragment_size"`
	Fragments    uint32 `json:"fragments"`
}

func strictDecode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// DecodeUploadIntent parses an UploadIntent record. Decode failures are
// reported as zerr.IntentParse; they are never fatal to the daemon.
func DecodeUploadIntent(data []byte) (UploadIntent, error) {
	var u UploadIntent
	if err := strictDecode(data, &u); err != nil {
		return UploadIntent{}, zerr.Wrap(zerr.IntentParse, "decode upload intent", err)
	}
	return u, nil
}

// DecodeDownloadIntent parses a DownloadIntent record.
func DecodeDownloadIntent(data []byte) (DownloadIntent, error) {
	var d DownloadIntent
	if err := strictDecode(data, &d); err != nil {
		return DownloadIntent{}, zerr.Wrap(zerr.IntentParse, "decode download intent", err)
	}
	return d, nil
}

// DecodeFragmentationDigest parses a FragmentationDigest record.
func DecodeFragmentationDigest(data []byte) (FragmentationDigest, error) {
	var fd FragmentationDigest
	if err := strictDecode(data, &fd); err != nil {
		return FragmentationDigest{}, zerr.Wrap(zerr.IntentParse, "decode fragmentation digest", err)
	}
	return fd, nil
}

// EncodeFragmentationDigest serializes d as JSON.
func EncodeFragmentationDigest(d FragmentationDigest) ([]byte, error) {
	return json.Marshal(d)
}

// EncodeDownloadIntent serializes d as JSON.
func EncodeDownloadIntent(d DownloadIntent) ([]byte, error) {
	return json.Marshal(d)
}

// EncodeUploadIntent serializes u as JSON.
func EncodeUploadIntent(u UploadIntent) ([]byte, error) {
	return json.Marshal(u)
}

// ReadFragmentationDigest reads and decodes the digest file at path.
func ReadFragmentationDigest(path string) (FragmentationDigest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FragmentationDigest{}, zerr.Wrap(zerr.ReassemblyIO, "read digest file", err)
	}
	return DecodeFragmentationDigest(data)
}

// WriteFragmentationDigest writes d as the digest file at path.
func WriteFragmentationDigest(path string, d FragmentationDigest) error {
	data, err := EncodeFragmentationDigest(d)
	if err != nil {
		return zerr.Wrap(zerr.StagingIO, "encode digest", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return zerr.Wrap(zerr.StagingIO, "write digest file", err)
	}
	return nil
}

// FragmentCount computes ceil(size/fragmentSize), with a minimum of 1 so
// an empty file still yields exactly one (empty) fragment.
func FragmentCount(size uint64, fragmentSize uint) uint32 {
	if fragmentSize == 0 {
		return 1
	}
	fs := uint64(fragmentSize)
	n := size / fs
	if size%fs != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return uint32(n)
}
