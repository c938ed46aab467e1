package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfsd-project/zfsd/internal/digest"
	"github.com/zfsd-project/zfsd/internal/frag"
	"github.com/zfsd-project/zfsd/internal/paths"
	"github.com/zfsd-project/zfsd/internal/transport/memtransport"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition never became true within %s", timeout)
}

func TestDispatcherUploadPublishesFragmentsAndDigest(t *testing.T) {
	p := paths.Paths{Home: t.TempDir()}
	store := memtransport.New()

	d, err := New(p, store)
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	src := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(src, []byte("hello dispatcher, please fragment and publish me"), 0o644))

	intent := digest.UploadIntent{Path: src, Key: "docs/x", FragmentSize: 8}
	data, err := digest.EncodeUploadIntent(intent)
	require.NoError(t, err)
	intentPath := filepath.Join(p.UploadDigestDir(), uuid.NewString())
	require.NoError(t, os.WriteFile(intentPath, data, 0o644))

	waitFor(t, 3*time.Second, func() bool {
		_, err := store.Get(context.Background(), paths.DigestKey("docs/x"))
		return err == nil
	})

	fd, err := store.Get(context.Background(), paths.DigestKey("docs/x"))
	require.NoError(t, err)
	decoded, err := digest.DecodeFragmentationDigest(fd)
	require.NoError(t, err)

	for n := uint32(0); n < decoded.Fragments; n++ {
		_, err := store.Get(context.Background(), paths.FragmentKey("docs/x", n))
		assert.NoError(t, err, "fragment %d should have been published", n)
	}

	waitFor(t, 3*time.Second, func() bool {
		_, err := os.Stat(intentPath)
		return os.IsNotExist(err)
	})
}

func TestDispatcherDownloadAssemblesFile(t *testing.T) {
	p := paths.Paths{Home: t.TempDir()}
	store := memtransport.New()

	content := []byte("round trip through the dispatcher's download path")
	src := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(src, content, 0o644))
	fd, err := frag.Fragment(p, src, "docs/y", 16)
	require.NoError(t, err)

	data, err := digest.EncodeFragmentationDigest(fd)
	require.NoError(t, err)
	require.NoError(t, store.Publish(context.Background(), paths.DigestKey("docs/y"), data))
	uploadDir := p.UploadFragDirForKey("docs/y")
	for n := uint32(0); n < fd.Fragments; n++ {
		fragData, err := os.ReadFile(filepath.Join(uploadDir, paths.FragmentSegment(n)))
		require.NoError(t, err)
		require.NoError(t, store.Publish(context.Background(), paths.FragmentKey("docs/y", n), fragData))
	}

	d, err := New(p, store)
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	dest := filepath.Join(t.TempDir(), "out.bin")
	intent := digest.DownloadIntent{Key: "docs/y", Path: dest}
	idata, err := digest.EncodeDownloadIntent(intent)
	require.NoError(t, err)
	intentPath := filepath.Join(p.DownloadDigestDir(), uuid.NewString())
	require.NoError(t, os.WriteFile(intentPath, idata, 0o644))

	waitFor(t, 3*time.Second, func() bool {
		_, err := os.Stat(dest)
		return err == nil
	})

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
