package library

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"dlnamedia/internal/catalog"
)

// Library holds the current catalog and rebuilds it on demand. Readers get
// an immutable snapshot; a rebuild swaps in a new one.
type Library struct {
	scanner   *Scanner
	roots     []string
	rootTitle string
	logger    zerolog.Logger

	current   atomic.Pointer[catalog.Catalog]
	updateID  atomic.Uint32
	lastStats atomic.Pointer[Stats]

	mu        sync.Mutex
	scanning  bool
	pending   bool
	observers []func(Stats)
}

func New(scanner *Scanner, roots []string, rootTitle string, logger zerolog.Logger) *Library {
	l := &Library{
		scanner:   scanner,
		roots:     roots,
		rootTitle: rootTitle,
		logger:    logger,
	}
	l.current.Store(catalog.Empty(rootTitle))
	return l
}

func (l *Library) Catalog() *catalog.Catalog {
	return l.current.Load()
}

// UpdateID is the ContentDirectory SystemUpdateID. It increases with every
// successful rebuild.
func (l *Library) UpdateID() uint32 {
	return l.updateID.Load()
}

func (l *Library) IsScanning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scanning
}

func (l *Library) LastStats() (Stats, bool) {
	s := l.lastStats.Load()
	if s == nil {
		return Stats{}, false
	}
	return *s, true
}

// OnRebuild registers fn to be called after each successful rebuild.
func (l *Library) OnRebuild(fn func(Stats)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Rebuild rescans the library and swaps in the new catalog. A call made
// while a scan is running returns immediately and causes one more scan once
// the current one finishes.
func (l *Library) Rebuild(ctx context.Context) error {
	l.mu.Lock()
	if l.scanning {
		l.pending = true
		l.mu.Unlock()
		return nil
	}
	l.scanning = true
	l.mu.Unlock()

	for {
		err := l.rebuildOnce(ctx)

		l.mu.Lock()
		again := l.pending && err == nil && ctx.Err() == nil
		l.pending = false
		if !again {
			l.scanning = false
			l.mu.Unlock()
			return err
		}
		l.mu.Unlock()
	}
}

func (l *Library) rebuildOnce(ctx context.Context) error {
	cat, stats, err := l.scanner.Build(ctx, l.roots, l.rootTitle)
	if err != nil {
		l.logger.Error().Err(err).Msg("library scan failed")
		return err
	}

	l.current.Store(cat)
	id := l.updateID.Add(1)
	l.lastStats.Store(&stats)

	l.logger.Info().
		Int("items", stats.Items).
		Int("excluded", stats.Excluded).
		Int("directories", stats.Directories).
		Int("cache_hits", stats.CacheHits).
		Int("probed", stats.Probed).
		Uint32("update_id", id).
		Dur("took", stats.Duration).
		Msg("library scan completed")

	l.mu.Lock()
	observers := append(([]func(Stats))(nil), l.observers...)
	l.mu.Unlock()
	for _, fn := range observers {
		fn(stats)
	}
	return nil
}

// Watch rebuilds the library after filesystem changes under the roots,
// once no further change has arrived for debounce. It returns when ctx is
// done.
func (l *Library) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, root := range l.roots {
		l.watchTree(watcher, root)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	l.logger.Info().Strs("roots", l.roots).Dur("debounce", debounce).Msg("watching library for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					l.watchTree(watcher, event.Name)
				}
			}
			l.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("library change")
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn().Err(err).Msg("library watcher error")

		case <-timer.C:
			if err := l.Rebuild(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error().Err(err).Msg("rebuild after change failed")
			}
		}
	}
}

func (l *Library) watchTree(watcher *fsnotify.Watcher, root string) {
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("cannot watch directory")
		}
		return nil
	})
}
