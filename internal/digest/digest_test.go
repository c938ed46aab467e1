package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfsd-project/zfsd/internal/zerr"
)

func TestFragmentCount(t *testing.T) {
	cases := []struct {
		name         string
		size         uint64
		fragmentSize uint
		want         uint32
	}{
		{"exact multiple", 8192, 4096, 2},
		{"remainder rounds up", 10, 4, 3},
		{"zero size still one fragment", 0, 4096, 1},
		{"single byte", 1, 4096, 1},
		{"exactly one fragment", 4096, 4096, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FragmentCount(tc.size, tc.fragmentSize))
		})
	}
}

func TestUploadIntentRoundTrip(t *testing.T) {
	u := UploadIntent{Path: "/tmp/file.bin", Key: "some/key", FragmentSize: 4096}
	data, err := EncodeUploadIntent(u)
	require.NoError(t, err)

	got, err := DecodeUploadIntent(data)
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestDownloadIntentRoundTrip(t *testing.T) {
	d := DownloadIntent{Key: "some/key", Path: "/tmp/out.bin", Pace: 50}
	data, err := EncodeDownloadIntent(d)
	require.NoError(t, err)

	got, err := DecodeDownloadIntent(data)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestFragmentationDigestRoundTrip(t *testing.T) {
	d := FragmentationDigest{Name: "some/key", Size: 8192, Crc: 0xdeadbeef, FragmentSize: 4096, Fragments: 2}
	data, err := EncodeFragmentationDigest(d)
	require.NoError(t, err)

	got, err := DecodeFragmentationDigest(data)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := DecodeUploadIntent([]byte(`{"path":"/a","key":"b","fragment_size":1,"bogus":true}`))
	require.Error(t, err)
	assert.True(t, zerr.Is(err, zerr.IntentParse))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeDownloadIntent([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, zerr.Is(err, zerr.IntentParse))
}

func TestReadWriteFragmentationDigestFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/zfs-digest"
	d := FragmentationDigest{Name: "k", Size: 10, Crc: 7, FragmentSize: 4, Fragments: 3}

	require.NoError(t, WriteFragmentationDigest(path, d))

	got, err := ReadFragmentationDigest(path)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}
