package registry

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// guardDebounce is how long a deletion may stand before the registry is
// rewritten. An atomic replace lands as remove-then-create on the same
// path; the window lets that pair cancel out.
const guardDebounce = 100 * time.Millisecond

// Guard restores the registry backing file when it is deleted out from
// under a live process (someone wiping the context dir by hand). It
// watches the parent directory because fsnotify cannot watch a path
// that no longer exists. The in-memory session set is the recovery
// source, so a Guard is only useful while its Registry is held open.
type Guard struct {
	reg      *Registry
	dir      string
	fsw      *fsnotify.Watcher
	stopped  chan struct{}
	stopOnce sync.Once
}

// Watch starts guarding the registry until Stop is called.
func (r *Registry) Watch() (*Guard, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	g := &Guard{
		reg:     r,
		dir:     filepath.Dir(r.Path()),
		fsw:     fsw,
		stopped: make(chan struct{}),
	}
	if err := fsw.Add(g.dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go g.loop()
	return g, nil
}

// Stop ends the watch. Safe to call more than once.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopped)
		_ = g.fsw.Close()
	})
}

func (g *Guard) loop() {
	target := filepath.Clean(g.reg.Path())

	var timer *time.Timer
	var pending <-chan time.Time
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		pending = nil
	}

	for {
		select {
		case <-g.stopped:
			disarm()
			return

		case event, ok := <-g.fsw.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			switch {
			case event.Op&fsnotify.Remove != 0 && (name == target || name == g.dir):
				log.Info().Str("path", name).Msg("Session registry removed, restore scheduled")
				disarm()
				timer = time.NewTimer(guardDebounce)
				pending = timer.C

			case event.Op&fsnotify.Create != 0 && name == target:
				// The registry came straight back (atomic replace or a
				// concurrent writer); nothing was lost
				disarm()

			case event.Op&fsnotify.Create != 0 && name == g.dir:
				// Context dir recreated, the old watch died with it
				_ = g.fsw.Add(g.dir)
			}

		case <-pending:
			pending = nil
			g.restore()

		case err, ok := <-g.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Registry guard error")
		}
	}
}

// restore rewrites the backing file from the in-memory session set and
// re-arms the directory watch, which is lost when the directory itself
// goes.
func (g *Guard) restore() {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", g.dir).Msg("Could not recreate registry dir")
		return
	}
	if err := g.reg.Flush(); err != nil {
		log.Warn().Err(err).Str("path", g.reg.Path()).Msg("Could not restore deleted registry")
		return
	}
	_ = g.fsw.Add(g.dir)
	log.Info().Str("path", g.reg.Path()).Msg("Session registry restored after deletion")
}
