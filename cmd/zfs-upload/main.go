// Command zfs-upload writes an UploadIntent file into the daemon's upload
// inbox. It performs no fragmentation itself -- that is the daemon's job
// once it notices the new intent file.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/zfsd-project/zfsd/internal/digest"
	"github.com/zfsd-project/zfsd/internal/paths"
)

func main() {
	var (
		path         = flag.String("path", "", "path of the local file to upload (required)")
		key          = flag.String("key", "", "logical key to publish the file under (required)")
		fragmentSize = flag.Uint("fragment", 32768, "fragment size in bytes")
		home         = flag.String("home", "", "zfsd working root (defaults to $ZFSD_HOME or $HOME/.zfsd)")
	)
	flag.Parse()

	if *path == "" || *key == "" {
		fmt.Fprintln(os.Stderr, "usage: zfs-upload --path P --key K [--fragment BYTES]")
		os.Exit(1)
	}

	abs, err := filepath.Abs(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zfs-upload: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(abs); err != nil {
		fmt.Fprintf(os.Stderr, "zfs-upload: %v\n", err)
		os.Exit(1)
	}

	p := paths.Resolve(*home)
	if err := os.MkdirAll(p.UploadDigestDir(), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "zfs-upload: %v\n", err)
		os.Exit(1)
	}

	intent := digest.UploadIntent{Path: abs, Key: *key, FragmentSize: *fragmentSize}
	data, err := digest.EncodeUploadIntent(intent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zfs-upload: %v\n", err)
		os.Exit(1)
	}

	dest := filepath.Join(p.UploadDigestDir(), uuid.NewString())
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "zfs-upload: %v\n", err)
		os.Exit(1)
	}
}
