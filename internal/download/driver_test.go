package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfsd-project/zfsd/internal/digest"
	"github.com/zfsd-project/zfsd/internal/frag"
	"github.com/zfsd-project/zfsd/internal/paths"
	"github.com/zfsd-project/zfsd/internal/transport/memtransport"
	"github.com/zfsd-project/zfsd/internal/zerr"
)

func publishFixture(t *testing.T, p paths.Paths, store *memtransport.Store, key string, content []byte, fragmentSize uint) digest.FragmentationDigest {
	t.Helper()
	src := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	d, err := frag.Fragment(p, src, key, fragmentSize)
	require.NoError(t, err)

	data, err := digest.EncodeFragmentationDigest(d)
	require.NoError(t, err)
	require.NoError(t, store.Publish(context.Background(), paths.DigestKey(key), data))

	dir := p.UploadFragDirForKey(key)
	for n := uint32(0); n < d.Fragments; n++ {
		fragData, err := os.ReadFile(filepath.Join(dir, paths.FragmentSegment(n)))
		require.NoError(t, err)
		require.NoError(t, store.Publish(context.Background(), paths.FragmentKey(key, n), fragData))
	}
	return d
}

func TestRunDownloadsAndVerifies(t *testing.T) {
	p := paths.Paths{Home: t.TempDir()}
	store := memtransport.New()
	content := []byte("the quick brown fox jumps over the lazy dog")
	publishFixture(t, p, store, "docs/x", content, 8)

	dest := filepath.Join(t.TempDir(), "out.bin")
	intent := digest.DownloadIntent{Key: "docs/x", Path: dest}

	require.NoError(t, Run(context.Background(), p, store, intent))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestRunIsIdempotentWhenTargetAlreadyExists(t *testing.T) {
	p := paths.Paths{Home: t.TempDir()}
	store := memtransport.New()

	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(dest, []byte("already here"), 0o644))

	intent := digest.DownloadIntent{Key: "docs/missing", Path: dest}
	require.NoError(t, Run(context.Background(), p, store, intent))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("already here"), got)
}

func TestRunReturnsCorruptedOnCrcMismatch(t *testing.T) {
	p := paths.Paths{Home: t.TempDir()}
	store := memtransport.New()
	publishFixture(t, p, store, "docs/y", []byte("0123456789abcdef"), 4)

	// Tamper with the published fragment so reassembly fails verification.
	require.NoError(t, store.Publish(context.Background(), paths.FragmentKey("docs/y", 0), []byte("XXXX")))

	dest := filepath.Join(t.TempDir(), "out.bin")
	intent := digest.DownloadIntent{Key: "docs/y", Path: dest}

	err := Run(context.Background(), p, store, intent)
	assert.Error(t, err)
	assert.True(t, zerr.Is(err, zerr.Corrupted))
}

func TestFetchFragmentSkipsExistingFile(t *testing.T) {
	p := paths.Paths{Home: t.TempDir()}
	store := memtransport.New()
	key := "docs/z"
	require.NoError(t, os.MkdirAll(p.DownloadFragDirForKey(key), 0o755))
	fragPath := filepath.Join(p.DownloadFragDirForKey(key), paths.FragmentSegment(0))
	require.NoError(t, os.WriteFile(fragPath, []byte("local"), 0o644))

	// No fragment published to the transport at all; FetchFragment must not
	// need to call it since the fragment is already present locally.
	require.NoError(t, FetchFragment(context.Background(), p, store, key, 0))

	got, err := os.ReadFile(fragPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("local"), got)
}
