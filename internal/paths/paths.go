// Package paths implements the deterministic mapping between a logical key,
// the on-disk fragment directories, and the transport key-expressions. It
// performs no I/O of its own.
package paths

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DigestName is the fixed file name for a fragmentation digest, both on
// disk (as the last file in a fragment directory) and as the terminal
// path segment of its transport key-expression.
const DigestName = "zfs-digest"

const (
	digestSubdir   = "digest"
	uploadSubdir   = "upload"
	downloadSubdir = "download"
	fragsSubdir    = "frags"

	// wirePrefix is the fixed, wire-visible prefix of every key-expression
	// this daemon publishes or queries. It is part of the compatibility
	// contract with other peers.
	wirePrefix = "zfs"
)

// Paths resolves the working-root ("home") once, at startup, and is then
// threaded explicitly through the system rather than re-read from process
// environment by leaf modules.
type Paths struct {
	Home string
}

// Resolve computes the working root from an explicit override (e.g. a
// --home flag), falling back to $ZFSD_HOME, then $HOME/.zfsd.
func Resolve(override string) Paths {
	if override != "" {
		return Paths{Home: override}
	}
	if env := os.Getenv("ZFSD_HOME"); env != "" {
		return Paths{Home: env}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Paths{Home: filepath.Join(home, ".zfsd")}
}

// normalizeKey strips a single leading '/' so that exactly one '/' always
// separates segments of the logical key.
func normalizeKey(key string) string {
	return strings.TrimPrefix(key, "/")
}

// UploadDigestDir is the inbox for UploadIntent files.
func (p Paths) UploadDigestDir() string { return filepath.Join(p.Home, digestSubdir, uploadSubdir) }

// DownloadDigestDir is the inbox for DownloadIntent files.
func (p Paths) DownloadDigestDir() string {
	return filepath.Join(p.Home, digestSubdir, downloadSubdir)
}

// UploadFragsDir is the root of all upload fragment staging directories.
func (p Paths) UploadFragsDir() string { return filepath.Join(p.Home, fragsSubdir, uploadSubdir) }

// DownloadFragsDir is the root of all download fragment directories.
func (p Paths) DownloadFragsDir() string {
	return filepath.Join(p.Home, fragsSubdir, downloadSubdir)
}

// UploadFragDirForKey is the local fragment staging directory for key.
func (p Paths) UploadFragDirForKey(key string) string {
	return filepath.Join(p.UploadFragsDir(), normalizeKey(key))
}

// DownloadFragDirForKey is the local directory holding retrieved fragments
// for key.
func (p Paths) DownloadFragDirForKey(key string) string {
	return filepath.Join(p.DownloadFragsDir(), normalizeKey(key))
}

// KeyFromUploadFragDir recovers the logical key from a path somewhere under
// UploadFragsDir by stripping the known prefix. The second return value is
// false if path does not lie under the upload fragments tree.
func (p Paths) KeyFromUploadFragDir(path string) (string, bool) {
	return keyFromFragsDir(p.UploadFragsDir(), path)
}

// KeyFromDownloadFragDir is the download-side analogue of
// KeyFromUploadFragDir.
func (p Paths) KeyFromDownloadFragDir(path string) (string, bool) {
	return keyFromFragsDir(p.DownloadFragsDir(), path)
}

func keyFromFragsDir(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// FragmentSegment returns the file name for fragment n inside a fragment
// directory (fragments are named by their numeric index).
func FragmentSegment(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}

// DigestKey is the wire key-expression for key's fragmentation digest:
// zfs/<key>/zfs-digest.
func DigestKey(key string) string {
	return wirePrefix + "/" + normalizeKey(key) + "/" + DigestName
}

// FragmentKey is the wire key-expression for fragment n of key:
// zfs/<key>/<n>.
func FragmentKey(key string, n uint32) string {
	return wirePrefix + "/" + normalizeKey(key) + "/" + FragmentSegment(n)
}
