package download

import (
	"context"
	"os"
	"path/filepath"

	"github.com/zfsd-project/zfsd/internal/logging"
	"github.com/zfsd-project/zfsd/internal/paths"
	"github.com/zfsd-project/zfsd/internal/transport"
	"github.com/zfsd-project/zfsd/internal/zerr"
)

var log = logging.Global().WithComponent("download")

// FetchFragment retrieves fragment n of key into the local download
// fragment directory, unless it is already present. Both the driver and
// the sanitizer call this, so the pre-existence check is what makes them
// cooperatively idempotent: whichever task observes the fragment file
// first wins, the other's transport call is simply skipped.
func FetchFragment(ctx context.Context, p paths.Paths, store transport.Store, key string, n uint32) error {
	dir := p.DownloadFragDirForKey(key)
	fragPath := filepath.Join(dir, paths.FragmentSegment(n))

	if _, err := os.Stat(fragPath); err == nil {
		log.Debug("fragment already present, skipping fetch", logging.Fields{"key": key, "n": n})
		return nil
	}

	data, err := store.Get(ctx, paths.FragmentKey(key, n))
	if err != nil {
		return zerr.Wrap(zerr.TransportQuery, "fetch fragment", err)
	}

	tmp := fragPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return zerr.Wrap(zerr.ReassemblyIO, "write fragment", err)
	}
	if err := os.Rename(tmp, fragPath); err != nil {
		return zerr.Wrap(zerr.ReassemblyIO, "finalize fragment", err)
	}
	return nil
}
