// Package storewatch audits the on-disk storage tree. Stored files are
// only ever written by the upload path, so any external remove or rename
// means the verified copy is gone. The watcher flips the matching record
// back to unverified so management listings reflect reality.
package storewatch

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vaultguard/internal/store"
)

type Watcher struct {
	root string
	gw   store.Gateway
	log  zerolog.Logger

	fw     *fsnotify.Watcher
	doneCh chan struct{}
}

// New builds a watcher over the storage root and its per-client
// directories. The root is created if it does not exist yet.
func New(root string, gw store.Gateway, log zerolog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:   root,
		gw:     gw,
		log:    log.With().Str("component", "storewatch").Logger(),
		fw:     fw,
		doneCh: make(chan struct{}),
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		fw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fw.Add(filepath.Join(root, e.Name())); err != nil {
				w.log.Warn().Str("dir", e.Name()).Err(err).Msg("watch client dir failed")
			}
		}
	}
	return w, nil
}

func (w *Watcher) Start() {
	go w.run()
	w.log.Info().Str("root", w.root).Msg("storage audit started")
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case ev, okay := <-w.fw.Events:
			if !okay {
				return
			}
			w.handle(ev)
		case err, okay := <-w.fw.Errors:
			if !okay {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		// New per-client directories appear when a first upload lands.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && filepath.Dir(ev.Name) == w.root {
			if err := w.fw.Add(ev.Name); err != nil {
				w.log.Warn().Str("dir", ev.Name).Err(err).Msg("watch client dir failed")
			}
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.markGone(ev.Name)
	}
}

func (w *Watcher) markGone(path string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rec, err := w.gw.FindFileByPath(path)
	if err != nil || rec == nil || !rec.Verified {
		return
	}
	// The record carries the protocol filename, which the on-disk base
	// name may not match; key the flip on the record itself.
	id, err := uuid.Parse(rec.ClientID)
	if err != nil {
		w.log.Error().Str("path", path).Str("id", rec.ClientID).Msg("file record has bad client id")
		return
	}
	if err := w.gw.SetFileVerified(id, rec.FileName, false); err != nil {
		w.log.Error().Str("path", path).Err(err).Msg("mark file unverified failed")
		return
	}
	w.log.Warn().Str("client", rec.ClientID).Str("file", rec.FileName).Msg("stored file vanished, marked unverified")
}

func (w *Watcher) Stop() {
	w.fw.Close()
	<-w.doneCh
}
