package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dlnamedia/internal/catalog"
	"dlnamedia/internal/media"
	"dlnamedia/internal/storage"
)

const DefaultProbeConcurrency = 8

type Prober interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
}

// ProbeCache persists probe results between scans.
type ProbeCache interface {
	GetProbedFile(ctx context.Context, path string) (*storage.ProbedFile, error)
	SaveProbedFile(ctx context.Context, f *storage.ProbedFile) error
	PruneExcept(ctx context.Context, keep map[string]bool) (int, error)
}

// Stats summarises one scan.
type Stats struct {
	Roots       int           `json:"roots"`
	Directories int           `json:"directories"`
	Files       int           `json:"files"`
	Items       int           `json:"items"`
	Excluded    int           `json:"excluded"`
	CacheHits   int           `json:"cache_hits"`
	Probed      int           `json:"probed"`
	Duration    time.Duration `json:"duration"`
}

type Scanner struct {
	prober      Prober
	cache       ProbeCache
	readTags    func(path string) (media.Tags, error)
	concurrency int
	logger      zerolog.Logger
}

// NewScanner returns a scanner. cache may be nil.
func NewScanner(prober Prober, cache ProbeCache, concurrency int, logger zerolog.Logger) *Scanner {
	if concurrency <= 0 {
		concurrency = DefaultProbeConcurrency
	}
	return &Scanner{
		prober:      prober,
		cache:       cache,
		readTags:    media.ReadTags,
		concurrency: concurrency,
		logger:      logger,
	}
}

type dirNode struct {
	path     string
	name     string
	modTime  time.Time
	sidecar  string
	children []entryNode
}

// entryNode holds exactly one of dir or file.
type entryNode struct {
	dir  *dirNode
	file *fileNode
}

type fileNode struct {
	path    string
	name    string
	size    int64
	modTime time.Time
	sidecar string
	result  *storage.ProbedFile
}

func (f *fileNode) usable() bool {
	return f.result != nil && len(f.result.Tracks) > 0
}

type scanCounters struct {
	directories int
	files       []*fileNode
	hits        atomic.Int64
	probed      atomic.Int64
}

// Build walks roots and returns a new catalog. Unreadable roots and files
// that cannot be probed are logged and left out; only cancellation of ctx or
// an inconsistent tree fails the build.
func (s *Scanner) Build(ctx context.Context, roots []string, rootTitle string) (*catalog.Catalog, Stats, error) {
	start := time.Now()
	roots = normalizeRoots(roots)

	counters := &scanCounters{}
	var trees []*dirNode
	allRootsRead := true
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			s.logger.Error().Err(err).Str("path", root).Msg("library root not readable")
			allRootsRead = false
			continue
		}

		s.logger.Info().Str("path", root).Msg("scanning library root")
		node := &dirNode{path: root, name: filepath.Base(root), modTime: info.ModTime()}
		if err := s.scanDirectory(ctx, node, counters); err != nil {
			return nil, Stats{}, err
		}
		trees = append(trees, node)
	}

	if err := s.probeAll(ctx, counters); err != nil {
		return nil, Stats{}, err
	}

	b := catalog.NewBuilder(rootTitle)
	keep := map[*dirNode]bool{}
	for _, tree := range trees {
		markNonEmpty(tree, keep)
	}

	if len(trees) == 1 {
		s.addChildren(b, catalog.RootID, trees[0], keep)
	} else {
		for _, tree := range trees {
			if !keep[tree] {
				continue
			}
			id := generateID(tree.path)
			if err := b.AddContainer(catalog.RootID, id, tree.name, tree.modTime, tree.sidecar); err != nil {
				s.logger.Warn().Err(err).Str("path", tree.path).Msg("skipping library root")
				continue
			}
			s.addChildren(b, id, tree, keep)
		}
	}

	cat, err := b.Build()
	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{
		Roots:       len(trees),
		Directories: counters.directories,
		Files:       len(counters.files),
		CacheHits:   int(counters.hits.Load()),
		Probed:      int(counters.probed.Load()),
		Duration:    time.Since(start),
	}
	for _, f := range counters.files {
		if f.usable() {
			stats.Items++
		} else {
			stats.Excluded++
		}
	}

	if s.cache != nil && allRootsRead {
		seen := make(map[string]bool, len(counters.files))
		for _, f := range counters.files {
			seen[f.path] = true
		}
		if deleted, err := s.cache.PruneExcept(ctx, seen); err != nil {
			s.logger.Warn().Err(err).Msg("probe cache cleanup failed")
		} else if deleted > 0 {
			s.logger.Info().Int("deleted", deleted).Msg("removed stale probe cache entries")
		}
	}

	return cat, stats, nil
}

func (s *Scanner) scanDirectory(ctx context.Context, node *dirNode, counters *scanCounters) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(node.path)
	if err != nil {
		s.logger.Error().Err(err).Str("path", node.path).Msg("failed to read directory")
		return nil
	}
	counters.directories++

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if name := media.PickSidecar(names); name != "" {
		node.sidecar = filepath.Join(node.path, name)
	}

	for _, entry := range entries {
		// Skip hidden entries
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		fullPath := filepath.Join(node.path, entry.Name())

		info, err := entry.Info()
		if err != nil {
			s.logger.Error().Err(err).Str("path", fullPath).Msg("failed to get file info")
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			info, err = os.Stat(fullPath)
			if err != nil {
				s.logger.Debug().Err(err).Str("path", fullPath).Msg("dangling symlink")
				continue
			}
			if info.IsDir() {
				s.logger.Debug().Str("path", fullPath).Msg("skipping symlinked directory")
				continue
			}
		}

		if info.IsDir() {
			child := &dirNode{path: fullPath, name: entry.Name(), modTime: info.ModTime()}
			if err := s.scanDirectory(ctx, child, counters); err != nil {
				return err
			}
			node.children = append(node.children, entryNode{dir: child})
			continue
		}

		if !info.Mode().IsRegular() || !media.IsSupportedMedia(entry.Name()) {
			continue
		}

		f := &fileNode{
			path:    fullPath,
			name:    entry.Name(),
			size:    info.Size(),
			modTime: info.ModTime(),
			sidecar: node.sidecar,
		}
		counters.files = append(counters.files, f)
		node.children = append(node.children, entryNode{file: f})
	}

	return nil
}

func (s *Scanner) probeAll(ctx context.Context, counters *scanCounters) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, f := range counters.files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s.resolve(gctx, f, &counters.hits, &counters.probed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Scanner) resolve(ctx context.Context, f *fileNode, hits, probed *atomic.Int64) {
	if s.cache != nil {
		cached, err := s.cache.GetProbedFile(ctx, f.path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", f.path).Msg("probe cache lookup failed")
		} else if cached != nil && cached.Matches(f.size, f.modTime) {
			f.result = cached
			hits.Add(1)
			s.logUnusable(f)
			return
		}
	}

	res, err := s.prober.Probe(ctx, f.path)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("path", f.path).Msg("probe failed, excluding file")
		}
		return
	}
	probed.Add(1)

	pf := toProbedFile(f, res)
	if media.IsSupportedAudio(f.name) {
		if tags, err := s.readTags(f.path); err == nil {
			pf.Tags = storage.FileTags{
				Artist:      tags.Artist,
				Album:       tags.Album,
				Genre:       tags.Genre,
				TrackNumber: tags.TrackNumber,
				Year:        tags.Year,
				HasPicture:  tags.HasPicture,
			}
		} else {
			s.logger.Debug().Err(err).Str("path", f.path).Msg("no readable tags")
		}
	}

	if s.cache != nil {
		if err := s.cache.SaveProbedFile(ctx, pf); err != nil {
			s.logger.Warn().Err(err).Str("path", f.path).Msg("failed to cache probe result")
		}
	}

	f.result = pf
	s.logUnusable(f)
}

func (s *Scanner) logUnusable(f *fileNode) {
	if !f.usable() {
		s.logger.Debug().Str("path", f.path).Msg("no audio streams, excluding file")
	}
}

func toProbedFile(f *fileNode, res *media.ProbeResult) *storage.ProbedFile {
	pf := &storage.ProbedFile{
		Path:         f.path,
		Size:         f.size,
		ModifiedAt:   f.modTime,
		Format:       res.Format,
		Duration:     res.Duration,
		BitRate:      res.BitRate,
		IsVideo:      res.IsVideo,
		DefaultTrack: res.DefaultAudio,
		ProbedAt:     time.Now(),
	}
	for _, a := range res.AudioStreams {
		pf.Tracks = append(pf.Tracks, storage.ProbedTrack{
			StreamIndex: a.Index,
			Codec:       a.Codec,
			Channels:    a.Channels,
			SampleRate:  a.SampleRate,
			BitRate:     a.BitRate,
			Language:    a.Language,
			Title:       a.Title,
		})
	}
	if pf.DefaultTrack >= len(pf.Tracks) {
		pf.DefaultTrack = 0
	}
	return pf
}

// markNonEmpty records every directory that has at least one usable item
// somewhere below it.
func markNonEmpty(d *dirNode, keep map[*dirNode]bool) bool {
	nonEmpty := false
	for _, c := range d.children {
		switch {
		case c.dir != nil:
			if markNonEmpty(c.dir, keep) {
				nonEmpty = true
			}
		case c.file.usable():
			nonEmpty = true
		}
	}
	if nonEmpty {
		keep[d] = true
	}
	return nonEmpty
}

func (s *Scanner) addChildren(b *catalog.Builder, parentID string, d *dirNode, keep map[*dirNode]bool) {
	for _, c := range d.children {
		if c.dir != nil {
			if !keep[c.dir] {
				continue
			}
			id := generateID(c.dir.path)
			if err := b.AddContainer(parentID, id, c.dir.name, c.dir.modTime, c.dir.sidecar); err != nil {
				s.logger.Warn().Err(err).Str("path", c.dir.path).Msg("skipping directory")
				continue
			}
			s.addChildren(b, id, c.dir, keep)
			continue
		}

		f := c.file
		if !f.usable() {
			continue
		}
		if err := b.AddItem(parentID, generateID(f.path), f.name, f.modTime, audioItem(f)); err != nil {
			s.logger.Warn().Err(err).Str("path", f.path).Msg("skipping file")
		}
	}
}

func audioItem(f *fileNode) catalog.AudioItem {
	r := f.result
	item := catalog.AudioItem{
		Source: catalog.SourceFile{
			Path:     f.path,
			Format:   r.Format,
			Size:     f.size,
			Duration: r.Duration,
			BitRate:  r.BitRate,
			IsVideo:  r.IsVideo,
		},
		DefaultTrack: r.DefaultTrack,
		Tags: catalog.Tags{
			Artist:      r.Tags.Artist,
			Album:       r.Tags.Album,
			Genre:       r.Tags.Genre,
			TrackNumber: r.Tags.TrackNumber,
			Year:        r.Tags.Year,
		},
		ArtPath:     f.sidecar,
		EmbeddedArt: r.Tags.HasPicture,
	}
	for i, t := range r.Tracks {
		item.Source.Tracks = append(item.Source.Tracks, catalog.Track{
			Index:       i,
			StreamIndex: t.StreamIndex,
			Codec:       t.Codec,
			Channels:    t.Channels,
			SampleRate:  t.SampleRate,
			BitRate:     t.BitRate,
			Language:    t.Language,
			Title:       t.Title,
		})
	}
	return item
}

func normalizeRoots(roots []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if r == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			abs = filepath.Clean(r)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

func generateID(path string) string {
	hash := sha256.Sum256([]byte(path))
	return hex.EncodeToString(hash[:8])
}
