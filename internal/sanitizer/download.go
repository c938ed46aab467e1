// Package sanitizer implements the two background registries that keep a
// daemon's upload and download trees converging even when the primary
// dispatch path (fsnotify events, a single driver run) drops a fragment or
// exits early: the download sanitizer re-requests missing fragments on an
// escalating schedule, and the upload sanitizer re-publishes fragments the
// transport has silently lost.
package sanitizer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/zfsd-project/zfsd/internal/config"
	"github.com/zfsd-project/zfsd/internal/digest"
	"github.com/zfsd-project/zfsd/internal/download"
	"github.com/zfsd-project/zfsd/internal/logging"
	"github.com/zfsd-project/zfsd/internal/paths"
	"github.com/zfsd-project/zfsd/internal/transport"
)

var log = logging.Global().WithComponent("sanitizer")

// registryEntry tracks one in-progress download across sanitizer cycles.
type registryEntry struct {
	intent      digest.DownloadIntent
	tideLevel   uint32
	gapNum      int
	stuckCycles uint
	requested   *bloom.BloomFilter
}

func newRequestFilter() *bloom.BloomFilter {
	return bloom.NewWithEstimates(1024, 0.01)
}

// Download runs the periodic gap-check/escalation/cleanup cycle described
// for the download registry. Call Tick directly from tests; Run blocks,
// ticking at cfg.Period until ctx is cancelled.
type Download struct {
	paths paths.Paths
	store transport.Store
	cfg   config.Sanitizer
	reg   map[string]*registryEntry
	sem   chan struct{}
}

func NewDownload(p paths.Paths, store transport.Store, cfg config.Sanitizer) *Download {
	return &Download{
		paths: p,
		store: store,
		cfg:   cfg,
		reg:   make(map[string]*registryEntry),
		sem:   make(chan struct{}, cfg.MaxAccel),
	}
}

func (d *Download) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one sanitizer pass over every file in the download intent
// directory.
func (d *Download) Tick(ctx context.Context) {
	dir := d.paths.DownloadDigestDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("cannot list download intent dir", logging.Fields{"err": err.Error()})
		return
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		intentPath := filepath.Join(dir, e.Name())
		seen[intentPath] = true
		d.tickOne(ctx, intentPath)
	}

	for path := range d.reg {
		if !seen[path] {
			delete(d.reg, path)
		}
	}
}

func (d *Download) tickOne(ctx context.Context, intentPath string) {
	if entry, known := d.reg[intentPath]; known {
		d.tickKnown(ctx, intentPath, entry)
		return
	}
	d.tickNew(ctx, intentPath)
}

func (d *Download) tickNew(ctx context.Context, intentPath string) {
	data, err := os.ReadFile(intentPath)
	if err != nil {
		log.Warn("cannot read download intent", logging.Fields{"path": intentPath, "err": err.Error()})
		return
	}
	intent, err := digest.DecodeDownloadIntent(data)
	if err != nil {
		log.Warn("malformed download intent, discarding", logging.Fields{"path": intentPath, "err": err.Error()})
		_ = os.Remove(intentPath)
		return
	}

	missing, err := computeGaps(ctx, d.paths, d.store, intent.Key)
	if err != nil {
		log.Debug("digest not yet available for new intent", logging.Fields{"key": intent.Key, "err": err.Error()})
		return
	}
	if len(missing) == 0 {
		cleanup(d.paths, intent.Key, intent.Path, intentPath, 2*d.cfg.FSEvtDelay)
		return
	}

	d.reg[intentPath] = &registryEntry{
		intent:    intent,
		tideLevel: missing[0],
		gapNum:    len(missing),
	}
}

func (d *Download) tickKnown(ctx context.Context, intentPath string, entry *registryEntry) {
	missing, err := computeGaps(ctx, d.paths, d.store, entry.intent.Key)
	if err != nil {
		log.Warn("gap computation failed for known intent", logging.Fields{"key": entry.intent.Key, "err": err.Error()})
		return
	}
	if len(missing) == 0 {
		cleanup(d.paths, entry.intent.Key, entry.intent.Path, intentPath, 2*d.cfg.FSEvtDelay)
		delete(d.reg, intentPath)
		return
	}

	newGapNum := len(missing)
	if newGapNum < entry.gapNum {
		tide := uint32(0)
		for _, m := range missing {
			if m >= entry.tideLevel {
				tide = m
				break
			}
		}
		entry.tideLevel = tide
		entry.gapNum = newGapNum
		return
	}

	entry.stuckCycles++
	if entry.stuckCycles%d.cfg.StuckReset != 0 {
		log.Debug("no progress this cycle", logging.Fields{"key": entry.intent.Key, "gaps": newGapNum, "stuck": entry.stuckCycles})
		return
	}

	d.escalate(ctx, entry, missing)
}

// accel maps a round of stuck cycles to a burst multiplier, capped at
// MaxAccel so a permanently unreachable key cannot monopolize the worker
// pool.
func accel(round uint, maxAccel uint) uint {
	a := round / 2
	if a < 1 {
		a = 1
	}
	n := a * round
	if n > maxAccel {
		n = maxAccel
	}
	return n
}

func (d *Download) escalate(ctx context.Context, entry *registryEntry, missing []uint32) {
	round := entry.stuckCycles/d.cfg.StuckReset + 1
	burst := accel(round, d.cfg.MaxAccel)
	n := int(d.cfg.GapBatch * burst)
	if n > len(missing) {
		n = len(missing)
	}

	if entry.requested == nil {
		entry.requested = newRequestFilter()
	}
	next := newRequestFilter()

	log.Warn("gap recovery stalled, escalating", logging.Fields{
		"key": entry.intent.Key, "gaps": len(missing), "round": round, "burst": n,
	})

	entry.tideLevel = 0
	for i := 0; i < n; i++ {
		idx := missing[i]
		entry.tideLevel = idx
		key := []byte(entry.intent.Key)
		key = append(key, byte(idx), byte(idx>>8), byte(idx>>16), byte(idx>>24))
		if entry.requested.Test(key) {
			continue
		}
		next.Add(key)
		d.spawnFetch(ctx, entry.intent.Key, idx)
	}
	entry.requested = next
}

func (d *Download) spawnFetch(ctx context.Context, key string, n uint32) {
	d.sem <- struct{}{}
	go func() {
		defer func() { <-d.sem }()
		if err := download.FetchFragment(ctx, d.paths, d.store, key, n); err != nil {
			log.Debug("escalation fetch failed", logging.Fields{"key": key, "n": n, "err": err.Error()})
		}
	}()
}
