// Package frag implements the fragmentation / defragmentation pipeline
// splitting a source file into fixed-size blocks on disk, and reassembling
// plus verifying them.
package frag

import (
	"io"
	"os"
	"path/filepath"

	"github.com/zfsd-project/zfsd/internal/digest"
	"github.com/zfsd-project/zfsd/internal/logging"
	"github.com/zfsd-project/zfsd/internal/paths"
	"github.com/zfsd-project/zfsd/internal/zerr"
)

var log = logging.Global().WithComponent("frag")

// Fragment splits the file at sourcePath into blocks of fragmentSize bytes,
// writes them into the upload fragment directory for key, and writes the
// terminating fragmentation digest. The digest is written last and only
// after every fragment has landed: the dispatcher's recursive watch on the
// upload fragments tree relies on that ordering to know a key's publication
// is complete.
func Fragment(p paths.Paths, sourcePath, key string, fragmentSize uint) (digest.FragmentationDigest, error) {
	if fragmentSize == 0 {
		fragmentSize = 1
	}

	crc, err := fileCRC64(sourcePath)
	if err != nil {
		return digest.FragmentationDigest{}, zerr.Wrap(zerr.SourceIO, "checksum source file", err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return digest.FragmentationDigest{}, zerr.Wrap(zerr.SourceIO, "open source file", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return digest.FragmentationDigest{}, zerr.Wrap(zerr.SourceIO, "stat source file", err)
	}

	fragDir := p.UploadFragDirForKey(key)
	if err := os.RemoveAll(fragDir); err != nil {
		return digest.FragmentationDigest{}, zerr.Wrap(zerr.StagingIO, "clear staging dir", err)
	}
	if err := os.MkdirAll(fragDir, 0o755); err != nil {
		return digest.FragmentationDigest{}, zerr.Wrap(zerr.StagingIO, "create staging dir", err)
	}

	buf := make([]byte, fragmentSize)
	var fid uint32
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			fname := filepath.Join(fragDir, paths.FragmentSegment(fid))
			if err := writeFragmentAtomic(fname, buf[:n]); err != nil {
				return digest.FragmentationDigest{}, zerr.Wrap(zerr.StagingIO, "write fragment "+fname, err)
			}
			fid++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return digest.FragmentationDigest{}, zerr.Wrap(zerr.SourceIO, "read source file", readErr)
		}
	}
	if fid == 0 {
		// Zero-byte file still yields exactly one (empty) fragment, so that
		// fragments == FragmentCount(0, _) == 1.
		fname := filepath.Join(fragDir, paths.FragmentSegment(0))
		if err := writeFragmentAtomic(fname, nil); err != nil {
			return digest.FragmentationDigest{}, zerr.Wrap(zerr.StagingIO, "write empty fragment", err)
		}
		fid = 1
	}

	d := digest.FragmentationDigest{
		Name:         key,
		Size:         uint64(info.Size()),
		Crc:          crc,
		FragmentSize: fragmentSize,
		Fragments:    fid,
	}

	digestPath := filepath.Join(fragDir, paths.DigestName)
	if err := digest.WriteFragmentationDigest(digestPath, d); err != nil {
		return digest.FragmentationDigest{}, err
	}

	log.Debug("fragmented file", logging.Fields{"key": key, "fragments": fid, "crc": d.Crc})
	return d, nil
}

// writeFragmentAtomic writes data to a temp file in the same directory and
// renames it into place, so a fragment file once visible is always
// complete.
func writeFragmentAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
