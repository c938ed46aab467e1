package sanitizer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/zfsd-project/zfsd/internal/digest"
	"github.com/zfsd-project/zfsd/internal/paths"
	"github.com/zfsd-project/zfsd/internal/transport"
	"github.com/zfsd-project/zfsd/internal/zerr"
)

// localOrRemoteDigest reads the fragmentation digest from the local
// download fragment directory for key if present, otherwise fetches it
// from the transport and persists a local copy.
func localOrRemoteDigest(ctx context.Context, p paths.Paths, store transport.Store, key string) (digest.FragmentationDigest, error) {
	fragDir := p.DownloadFragDirForKey(key)
	digestPath := filepath.Join(fragDir, paths.DigestName)

	if d, err := digest.ReadFragmentationDigest(digestPath); err == nil {
		return d, nil
	}

	data, err := store.Get(ctx, paths.DigestKey(key))
	if err != nil {
		return digest.FragmentationDigest{}, zerr.Wrap(zerr.DigestUnavailable, "fetch digest for "+key, err)
	}
	d, err := digest.DecodeFragmentationDigest(data)
	if err != nil {
		return digest.FragmentationDigest{}, err
	}
	if err := os.MkdirAll(fragDir, 0o755); err != nil {
		return digest.FragmentationDigest{}, zerr.Wrap(zerr.ReassemblyIO, "create download fragment dir", err)
	}
	if err := digest.WriteFragmentationDigest(digestPath, d); err != nil {
		return digest.FragmentationDigest{}, err
	}
	return d, nil
}

// computeGaps returns the sorted set of fragment indices still missing for
// key: {0..fragments} minus the numerically-named files present in the
// download fragment directory.
func computeGaps(ctx context.Context, p paths.Paths, store transport.Store, key string) ([]uint32, error) {
	d, err := localOrRemoteDigest(ctx, p, store, key)
	if err != nil {
		return nil, err
	}

	present := make(map[uint32]bool, d.Fragments)
	fragDir := p.DownloadFragDirForKey(key)
	entries, err := os.ReadDir(fragDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if n, err := strconv.ParseUint(e.Name(), 10, 32); err == nil {
				present[uint32(n)] = true
			}
		}
	}

	missing := make([]uint32, 0, int(d.Fragments)-len(present))
	for i := uint32(0); i < d.Fragments; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing, nil
}
