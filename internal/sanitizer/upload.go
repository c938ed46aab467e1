package sanitizer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zfsd-project/zfsd/internal/config"
	"github.com/zfsd-project/zfsd/internal/digest"
	"github.com/zfsd-project/zfsd/internal/logging"
	"github.com/zfsd-project/zfsd/internal/paths"
	"github.com/zfsd-project/zfsd/internal/transport"
)

// Upload re-publishes fragments whose transport copy has gone missing.
// Unlike the download registry it needs no gap accounting: every fragment
// under a local upload key directory is, by construction, supposed to be
// published, so each cycle is just a existence probe per fragment plus a
// republish on miss.
type Upload struct {
	paths  paths.Paths
	store  transport.Store
	period time.Duration
}

func NewUpload(p paths.Paths, store transport.Store, cfg config.Sanitizer) *Upload {
	return &Upload{paths: p, store: store, period: cfg.Period}
}

func (u *Upload) Run(ctx context.Context) {
	ticker := time.NewTicker(u.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.Tick(ctx)
		}
	}
}

// Tick walks the upload fragments tree recursively, since keys are
// hierarchical (e.g. "docs/x" lives at UploadFragsDir()/docs/x, not at a
// top-level entry named "docs/x") -- a directory is a key-leaf exactly when
// it contains a zfs-digest file.
func (u *Upload) Tick(ctx context.Context) {
	root := u.paths.UploadFragsDir()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || d.Name() != paths.DigestName {
			return nil
		}
		key, ok := u.paths.KeyFromUploadFragDir(filepath.Dir(path))
		if !ok {
			return nil
		}
		u.tickKey(ctx, key, filepath.Dir(path))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		log.Warn("cannot walk upload fragments root", logging.Fields{"err": err.Error()})
	}
}

func (u *Upload) tickKey(ctx context.Context, key, dir string) {
	digestPath := filepath.Join(dir, paths.DigestName)

	d, err := digest.ReadFragmentationDigest(digestPath)
	if err != nil {
		log.Debug("upload key has no digest yet, skipping", logging.Fields{"key": key})
		return
	}

	if _, err := u.store.Get(ctx, paths.DigestKey(key)); err != nil {
		data, encErr := digest.EncodeFragmentationDigest(d)
		if encErr == nil {
			if pubErr := u.store.Publish(ctx, paths.DigestKey(key), data); pubErr != nil {
				log.Warn("republish of digest failed", logging.Fields{"key": key, "err": pubErr.Error()})
			} else {
				log.Info("republished missing digest", logging.Fields{"key": key})
			}
		}
	}

	for n := uint32(0); n < d.Fragments; n++ {
		u.tickFragment(ctx, dir, key, n)
	}
}

func (u *Upload) tickFragment(ctx context.Context, dir, key string, n uint32) {
	if _, err := u.store.Get(ctx, paths.FragmentKey(key, n)); err == nil {
		return
	}

	fragPath := filepath.Join(dir, strconv.FormatUint(uint64(n), 10))
	data, err := os.ReadFile(fragPath)
	if err != nil {
		log.Warn("local fragment missing, cannot republish", logging.Fields{"key": key, "n": n, "err": err.Error()})
		return
	}
	if err := u.store.Publish(ctx, paths.FragmentKey(key, n), data); err != nil {
		log.Warn("republish of fragment failed", logging.Fields{"key": key, "n": n, "err": err.Error()})
		return
	}
	log.Info("republished missing fragment", logging.Fields{"key": key, "n": n})
}
