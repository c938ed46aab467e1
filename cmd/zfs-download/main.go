// Command zfs-download writes a DownloadIntent file into the daemon's
// download inbox.
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
		path = flag.String("path", "", "destination path for the downloaded file (required)")
		key  = flag.String("key", "", "logical key to retrieve (required)")
		pace = flag.Uint("pace", 0, "per-fragment inter-arrival delay hint, in milliseconds")
		home = flag.String("home", "", "zfsd working root (defaults to $ZFSD_HOME or $HOME/.zfsd)")
	)
	flag.Parse()

	if *path == "" || *key == "" {
		fmt.Fprintln(os.Stderr, "usage: zfs-download --path P --key K [--pace MS]")
		os.Exit(1)
	}

	abs, err := filepath.Abs(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zfs-download: %v\n", err)
		os.Exit(1)
	}

	p := paths.Resolve(*home)
	if err := os.MkdirAll(p.DownloadDigestDir(), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "zfs-download: %v\n", err)
		os.Exit(1)
	}

	intent := digest.DownloadIntent{Key: *key, Path: abs, Pace: *pace}
	data, err := digest.EncodeDownloadIntent(intent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zfs-download: %v\n", err)
		os.Exit(1)
	}

	dest := filepath.Join(p.DownloadDigestDir(), uuid.NewString())
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "zfs-download: %v\n", err)
		os.Exit(1)
	}
}
