package sanitizer

import (
	"os"
	"time"

	"github.com/zfsd-project/zfsd/internal/digest"
	"github.com/zfsd-project/zfsd/internal/frag"
	"github.com/zfsd-project/zfsd/internal/logging"
	"github.com/zfsd-project/zfsd/internal/paths"
)

// cleanup runs once computeGaps reports no missing fragments for key. If the
// target already exists and its size matches the local digest, it settles
// for a short delay to let an in-flight defragment finish writing, then
// rechecks the size before removing the fragment directory and the intent
// file. If the target is missing or short -- the driver that would have
// written it died after the last fragment landed, or mid-write -- cleanup
// defragments it directly instead of waiting for another download attempt.
func cleanup(p paths.Paths, key, target, intentPath string, settleDelay time.Duration) {
	fragDir := p.DownloadFragDirForKey(key)
	digestPath := fragDir + "/" + paths.DigestName

	d, digestErr := digest.ReadFragmentationDigest(digestPath)

	if fi, err := os.Stat(target); err == nil && digestErr == nil && uint64(fi.Size()) == d.Size {
		time.Sleep(settleDelay)
		fi, err := os.Stat(target)
		if err != nil || uint64(fi.Size()) != d.Size {
			log.Debug("target missing or size mismatch after settle, deferring cleanup", logging.Fields{"key": key})
			return
		}
		if err := os.RemoveAll(fragDir); err != nil {
			log.Warn("failed to remove fragment dir", logging.Fields{"key": key, "err": err.Error()})
			return
		}
		if err := os.Remove(intentPath); err != nil {
			log.Warn("failed to remove download intent", logging.Fields{"key": key, "err": err.Error()})
		}
		log.Info("download settled, cleaned up", logging.Fields{"key": key, "path": target})
		return
	}

	if digestErr != nil {
		log.Debug("no local digest and no settled target, leaving intent for next cycle", logging.Fields{"key": key})
		return
	}

	verified, err := frag.Defragment(p, key, target)
	if err != nil {
		log.Warn("cleanup defragment failed", logging.Fields{"key": key, "err": err.Error()})
		return
	}
	if !verified {
		log.Warn("cleanup defragment produced a corrupt file, leaving for operator", logging.Fields{"key": key, "path": target})
		return
	}
	if err := os.RemoveAll(fragDir); err != nil {
		log.Warn("failed to remove fragment dir", logging.Fields{"key": key, "err": err.Error()})
		return
	}
	if err := os.Remove(intentPath); err != nil {
		log.Warn("failed to remove download intent", logging.Fields{"key": key, "err": err.Error()})
	}
	log.Info("assembled missing target during cleanup", logging.Fields{"key": key, "path": target})
}
