// Package download implements the end-to-end single-file pull: fetch the
// digest, fetch each fragment, then defragment.
package download

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/zfsd-project/zfsd/internal/digest"
	"github.com/zfsd-project/zfsd/internal/frag"
	"github.com/zfsd-project/zfsd/internal/logging"
	"github.com/zfsd-project/zfsd/internal/paths"
	"github.com/zfsd-project/zfsd/internal/transport"
	"github.com/zfsd-project/zfsd/internal/zerr"
)

// Run drives intent D to completion: if D.Path already exists this is a
// no-op. Cancellation is by context; a partial fragment left behind by a
// cancelled run is safe to resume from, either by a later Run or by the
// sanitizer.
func Run(ctx context.Context, p paths.Paths, store transport.Store, intent digest.DownloadIntent) error {
	if _, err := os.Stat(intent.Path); err == nil {
		log.Info("target already present, skipping download", logging.Fields{"key": intent.Key, "path": intent.Path})
		return nil
	}

	fd, err := store.Get(ctx, paths.DigestKey(intent.Key))
	if err != nil {
		return zerr.Wrap(zerr.DigestUnavailable, "fetch fragmentation digest for "+intent.Key, err)
	}
	d, err := digest.DecodeFragmentationDigest(fd)
	if err != nil {
		return zerr.Wrap(zerr.DigestUnavailable, "decode fragmentation digest for "+intent.Key, err)
	}

	fragDir := p.DownloadFragDirForKey(intent.Key)
	if err := os.MkdirAll(fragDir, 0o755); err != nil {
		return zerr.Wrap(zerr.ReassemblyIO, "create download fragment dir", err)
	}
	// The digest is persisted before any fragment is considered
	// authoritative for sanitizer purposes.
	if err := digest.WriteFragmentationDigest(filepath.Join(fragDir, paths.DigestName), d); err != nil {
		return err
	}

	pace := time.Duration(intent.Pace) * time.Millisecond
	for n := uint32(0); n < d.Fragments; n++ {
		if err := FetchFragment(ctx, p, store, intent.Key, n); err != nil {
			log.Warn("fragment fetch failed, leaving for sanitizer", logging.Fields{"key": intent.Key, "n": n, "err": err.Error()})
		}
		log.Debug("download progress", logging.Fields{"key": intent.Key, "fetched": n + 1, "total": d.Fragments})
		if pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pace):
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(intent.Path), 0o755); err != nil {
		return zerr.Wrap(zerr.ReassemblyIO, "create destination parent dir", err)
	}

	verified, err := frag.Defragment(p, intent.Key, intent.Path)
	if err != nil {
		return err
	}
	if !verified {
		log.Warn("downloaded file failed CRC verification", logging.Fields{"key": intent.Key, "path": intent.Path})
		return zerr.New(zerr.Corrupted, "crc mismatch for "+intent.Key)
	}

	log.Info("download complete", logging.Fields{"key": intent.Key, "path": intent.Path})
	return nil
}
