// Package dispatch wires a single fsnotify watcher over the daemon's three
// working trees to the upload, fragment-publish, and download actions,
// following the same watcher/debounce/event-loop idiom as a typical
// fsnotify-based file watcher.
package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zfsd-project/zfsd/internal/digest"
	"github.com/zfsd-project/zfsd/internal/download"
	"github.com/zfsd-project/zfsd/internal/frag"
	"github.com/zfsd-project/zfsd/internal/logging"
	"github.com/zfsd-project/zfsd/internal/paths"
	"github.com/zfsd-project/zfsd/internal/transport"
)

var log = logging.Global().WithComponent("dispatch")

const debounce = 100 * time.Millisecond

// Dispatcher watches the upload-intent, download-intent, and
// upload-fragment trees and routes create-file events to the matching
// action. It holds no state about progress -- that belongs to the
// download driver and the sanitizer registries -- it only decides which
// action a given path triggers.
type Dispatcher struct {
	paths paths.Paths
	store transport.Store

	watcher *fsnotify.Watcher

	debounceMu sync.Mutex
	timers     map[string]*time.Timer

	wg sync.WaitGroup
}

func New(p paths.Paths, store transport.Store) (*Dispatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		paths:   p,
		store:   store,
		watcher: w,
		timers:  make(map[string]*time.Timer),
	}

	for _, dir := range []string{p.UploadDigestDir(), p.DownloadDigestDir(), p.UploadFragsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			w.Close()
			return nil, err
		}
	}

	if err := w.Add(p.UploadDigestDir()); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(p.DownloadDigestDir()); err != nil {
		w.Close()
		return nil, err
	}
	if err := d.addRecursive(p.UploadFragsDir()); err != nil {
		w.Close()
		return nil, err
	}

	return d, nil
}

// addRecursive watches root and every existing subdirectory under it.
// fsnotify has no native recursive mode, so new key subdirectories created
// under the upload fragments tree are picked up as they themselves arrive
// as mkdir events, handled in handleEvent.
func (d *Dispatcher) addRecursive(root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return d.watcher.Add(p)
		}
		return nil
	})
}

// Run processes events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer func() {
		d.debounceMu.Lock()
		for _, t := range d.timers {
			t.Stop()
		}
		d.debounceMu.Unlock()
		d.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.debounce(ctx, ev)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error", logging.Fields{"err": err.Error()})
		}
	}
}

func (d *Dispatcher) Close() error {
	return d.watcher.Close()
}

func (d *Dispatcher) debounce(ctx context.Context, ev fsnotify.Event) {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()

	if t, exists := d.timers[ev.Name]; exists {
		t.Stop()
	}
	d.timers[ev.Name] = time.AfterFunc(debounce, func() {
		d.handleEvent(ctx, ev)
		d.debounceMu.Lock()
		delete(d.timers, ev.Name)
		d.debounceMu.Unlock()
	})
}

func (d *Dispatcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	// The debounce keeps only the last event for a path; for a freshly
	// written file that is usually a Write rather than its Create.
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		log.Debug("stat failed for event path, likely already removed", logging.Fields{"path": ev.Name})
		return
	}

	if info.IsDir() {
		if err := d.addRecursive(ev.Name); err != nil {
			log.Warn("failed to watch new subdirectory", logging.Fields{"path": ev.Name, "err": err.Error()})
		}
		// Files written into the new directory before its watch was added
		// raised no events of their own, so publish them from a walk.
		_ = filepath.Walk(ev.Name, func(p string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return nil
			}
			if key, ok := d.paths.KeyFromUploadFragDir(filepath.Dir(p)); ok {
				d.dispatchPublish(ctx, key, p)
			}
			return nil
		})
		return
	}

	dir := filepath.Dir(ev.Name)
	switch {
	case dir == d.paths.UploadDigestDir():
		d.dispatchUpload(ctx, ev.Name)
	case dir == d.paths.DownloadDigestDir():
		d.dispatchDownload(ctx, ev.Name)
	default:
		if key, ok := d.paths.KeyFromUploadFragDir(dir); ok {
			d.dispatchPublish(ctx, key, ev.Name)
			return
		}
		log.Debug("ignoring event under unrecognized path", logging.Fields{"path": ev.Name})
	}
}

func (d *Dispatcher) dispatchUpload(ctx context.Context, intentPath string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		data, err := os.ReadFile(intentPath)
		if err != nil {
			log.Warn("cannot read upload intent", logging.Fields{"path": intentPath, "err": err.Error()})
			return
		}
		intent, err := digest.DecodeUploadIntent(data)
		if err != nil {
			log.Warn("malformed upload intent, discarding", logging.Fields{"path": intentPath, "err": err.Error()})
			_ = os.Remove(intentPath)
			return
		}

		fd, err := frag.Fragment(d.paths, intent.Path, intent.Key, intent.FragmentSize)
		if err != nil {
			log.Warn("fragmentation failed", logging.Fields{"key": intent.Key, "err": err.Error()})
			return
		}

		if err := os.Remove(intentPath); err != nil {
			log.Warn("failed to remove consumed upload intent", logging.Fields{"path": intentPath, "err": err.Error()})
		}
		log.Debug("upload fragmented, publishing via fragment tree watch", logging.Fields{"key": intent.Key, "fragments": fd.Fragments})
	}()
}

func (d *Dispatcher) dispatchDownload(ctx context.Context, intentPath string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
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

		if err := download.Run(ctx, d.paths, d.store, intent); err != nil {
			log.Warn("download run failed, leaving for sanitizer", logging.Fields{"key": intent.Key, "err": err.Error()})
			return
		}
		if err := os.Remove(intentPath); err != nil {
			log.Warn("failed to remove consumed download intent", logging.Fields{"path": intentPath, "err": err.Error()})
		}
	}()
}

func (d *Dispatcher) dispatchPublish(ctx context.Context, key, fragPath string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		base := filepath.Base(fragPath)

		if base == paths.DigestName {
			data, err := os.ReadFile(fragPath)
			if err != nil {
				log.Warn("cannot read digest for publish", logging.Fields{"path": fragPath, "err": err.Error()})
				return
			}
			if err := d.store.Publish(ctx, paths.DigestKey(key), data); err != nil {
				log.Warn("digest publish failed", logging.Fields{"key": key, "path": fragPath, "err": err.Error()})
				return
			}
			log.Info("upload complete for key", logging.Fields{"key": key})
			return
		}

		n, err := strconv.ParseUint(base, 10, 32)
		if err != nil {
			log.Debug("ignoring non-fragment file in upload tree", logging.Fields{"path": fragPath})
			return
		}
		data, err := os.ReadFile(fragPath)
		if err != nil {
			log.Warn("cannot read fragment for publish", logging.Fields{"path": fragPath, "err": err.Error()})
			return
		}
		if err := d.store.Publish(ctx, paths.FragmentKey(key, uint32(n)), data); err != nil {
			log.Warn("fragment publish failed", logging.Fields{"key": key, "path": fragPath, "err": err.Error()})
		}
	}()
}
