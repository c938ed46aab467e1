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

// Defragment reads the local download digest for key, concatenates its
// fragments in index order into dest, and verifies the result's CRC64
// against the digest. The returned bool is the verification result
// a false result is not itself an error -- the caller
// decides whether to treat a mismatch as zerr.Corrupted.
func Defragment(p paths.Paths, key, dest string) (bool, error) {
	fragDir := p.DownloadFragDirForKey(key)
	d, err := digest.ReadFragmentationDigest(filepath.Join(fragDir, paths.DigestName))
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, zerr.Wrap(zerr.ReassemblyIO, "create destination directory", err)
	}

	tmp := dest + ".zfsd-assembling"
	out, err := os.Create(tmp)
	if err != nil {
		return false, zerr.Wrap(zerr.ReassemblyIO, "create destination file", err)
	}

	for i := uint32(0); i < d.Fragments; i++ {
		fragPath := filepath.Join(fragDir, paths.FragmentSegment(i))
		if err := copyFragment(out, fragPath); err != nil {
			out.Close()
			os.Remove(tmp)
			return false, zerr.Wrap(zerr.ReassemblyIO, "append fragment "+fragPath, err)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return false, zerr.Wrap(zerr.ReassemblyIO, "close destination file", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return false, zerr.Wrap(zerr.ReassemblyIO, "finalize destination file", err)
	}

	crc, err := fileCRC64(dest)
	if err != nil {
		return false, zerr.Wrap(zerr.ReassemblyIO, "checksum destination file", err)
	}

	verified := crc == d.Crc
	log.Debug("defragmented file", logging.Fields{"key": key, "verified": verified})
	return verified, nil
}

func copyFragment(out io.Writer, fragPath string) error {
	f, err := os.Open(fragPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(out, f)
	return err
}
