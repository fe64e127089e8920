package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dlnamedia/internal/catalog"
	"dlnamedia/internal/media"
	"dlnamedia/internal/storage"
)

type fakeProber struct {
	mu      sync.Mutex
	results map[string]*media.ProbeResult // keyed by base name
	calls   int
	block   chan struct{}
	entered chan struct{}
}

func newFakeProber() *fakeProber {
	return &fakeProber{results: map[string]*media.ProbeResult{}}
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*media.ProbeResult, error) {
	p.mu.Lock()
	p.calls++
	block, entered := p.block, p.entered
	p.block, p.entered = nil, nil
	res, ok := p.results[filepath.Base(path)]
	p.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !ok {
		return nil, errors.New("invalid data found when processing input")
	}
	return res, nil
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func stereo(codec string) *media.ProbeResult {
	return &media.ProbeResult{
		Format:   codec,
		Duration: 3 * time.Minute,
		AudioStreams: []media.AudioStream{
			{Index: 0, Codec: codec, Channels: 2, SampleRate: 44100},
		},
	}
}

func writeFiles(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestScanner(p Prober, cache ProbeCache) *Scanner {
	s := NewScanner(p, cache, 4, zerolog.Nop())
	s.readTags = func(string) (media.Tags, error) {
		return media.Tags{Artist: "Artist", Album: "Album"}, nil
	}
	return s
}

func titles(objs []*catalog.Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Title
	}
	return out
}

func TestBuild_MusicFolderScenario(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "Music/song.mp3")

	p := newFakeProber()
	p.results["song.mp3"] = stereo("mp3")

	cat, stats, err := newTestScanner(p, nil).Build(context.Background(), []string{root}, "Library")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	top, total, err := cat.ListChildren(catalog.RootID, 0, 10)
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	if total != 1 || len(top) != 1 || top[0].Title != "Music" || !top[0].IsContainer() {
		t.Fatalf("expected one Music container, got %v (total %d)", titles(top), total)
	}

	songs, total, err := cat.ListChildren(top[0].ID, 0, 10)
	if err != nil {
		t.Fatalf("list music: %v", err)
	}
	if total != 1 || songs[0].Title != "song.mp3" || songs[0].Kind != catalog.KindAudioItem {
		t.Fatalf("expected song.mp3 item, got %v", titles(songs))
	}
	item := songs[0].Audio
	if len(item.Source.Tracks) != 1 || item.Tags.Artist != "Artist" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if stats.Items != 1 || stats.Probed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBuild_ExcludesAndPrunes(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"Albums/good.flac",
		"Albums/broken.mp3",
		"Albums/notes.txt",
		"Empty/nothing.txt",
		"Videos/silent.mkv",
		"Videos/concert.mkv",
		".hidden/secret.mp3",
	)

	p := newFakeProber()
	p.results["good.flac"] = stereo("flac")
	p.results["silent.mkv"] = &media.ProbeResult{Format: "matroska", IsVideo: true}
	p.results["concert.mkv"] = &media.ProbeResult{
		Format:  "matroska",
		IsVideo: true,
		AudioStreams: []media.AudioStream{
			{Index: 1, Codec: "aac", Channels: 2, SampleRate: 48000},
			{Index: 2, Codec: "ac3", Channels: 6, SampleRate: 48000},
		},
		DefaultAudio: 1,
	}
	p.results["secret.mp3"] = stereo("mp3")

	cat, stats, err := newTestScanner(p, nil).Build(context.Background(), []string{root}, "Library")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	top, _, _ := cat.ListChildren(catalog.RootID, 0, 0)
	got := titles(top)
	if len(got) != 2 || got[0] != "Albums" || got[1] != "Videos" {
		t.Fatalf("expected [Albums Videos], got %v", got)
	}

	albums, _, _ := cat.ListChildren(top[0].ID, 0, 0)
	if len(albums) != 1 || albums[0].Title != "good.flac" {
		t.Fatalf("expected only good.flac, got %v", titles(albums))
	}

	videos, _, _ := cat.ListChildren(top[1].ID, 0, 0)
	if len(videos) != 1 || videos[0].Title != "concert.mkv" {
		t.Fatalf("expected only concert.mkv, got %v", titles(videos))
	}
	concert := videos[0].Audio
	if concert.DefaultTrack != 1 || len(concert.Source.Tracks) != 2 || concert.Source.Tracks[1].StreamIndex != 2 {
		t.Fatalf("unexpected tracks: %+v", concert)
	}
	if concert.Tags.Artist != "" {
		t.Fatal("tags are only read for audio files")
	}
	if !concert.HasArt() {
		t.Fatal("video sources offer a frame as art")
	}

	if stats.Excluded != 2 || stats.Items != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBuild_MultipleRoots(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFiles(t, a, "one.mp3")
	writeFiles(t, b, "two.mp3")

	p := newFakeProber()
	p.results["one.mp3"] = stereo("mp3")
	p.results["two.mp3"] = stereo("mp3")

	cat, _, err := newTestScanner(p, nil).Build(context.Background(), []string{a, b, a}, "Library")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	top, _, _ := cat.ListChildren(catalog.RootID, 0, 0)
	if len(top) != 2 || top[0].Title != filepath.Base(a) || top[1].Title != filepath.Base(b) {
		t.Fatalf("expected one container per root, got %v", titles(top))
	}
}

func TestBuild_IDsAreStable(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "x/a.mp3")

	p := newFakeProber()
	p.results["a.mp3"] = stereo("mp3")
	s := newTestScanner(p, nil)

	first, _, err := s.Build(context.Background(), []string{root}, "Library")
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := s.Build(context.Background(), []string{root}, "Library")
	if err != nil {
		t.Fatal(err)
	}

	id := generateID(filepath.Join(root, "x", "a.mp3"))
	for _, c := range []*catalog.Catalog{first, second} {
		obj, err := c.Lookup(id)
		if err != nil || obj.Title != "a.mp3" {
			t.Fatalf("expected %s to resolve to a.mp3, got %v / %v", id, obj, err)
		}
	}
}

func TestBuild_UsesProbeCache(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.mp3", "b.mp3")

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "probe.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	p := newFakeProber()
	p.results["a.mp3"] = stereo("mp3")
	p.results["b.mp3"] = stereo("mp3")
	s := newTestScanner(p, store)

	if _, _, err := s.Build(context.Background(), []string{root}, "Library"); err != nil {
		t.Fatal(err)
	}
	if p.callCount() != 2 {
		t.Fatalf("expected 2 probes, got %d", p.callCount())
	}

	_, stats, err := s.Build(context.Background(), []string{root}, "Library")
	if err != nil {
		t.Fatal(err)
	}
	if p.callCount() != 2 || stats.CacheHits != 2 {
		t.Fatalf("expected cached rescan, calls=%d stats=%+v", p.callCount(), stats)
	}

	// A changed file is probed again, a removed one leaves the cache.
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(root, "a.mp3"), later, later); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "b.mp3")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Build(context.Background(), []string{root}, "Library"); err != nil {
		t.Fatal(err)
	}
	if p.callCount() != 3 {
		t.Fatalf("expected a re-probe of the modified file, calls=%d", p.callCount())
	}
	n, err := store.CountProbedFiles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected stale cache row to be pruned, have %d rows", n)
	}
}

func TestBuild_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.mp3")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestScanner(newFakeProber(), nil).Build(ctx, []string{root}, "Library")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
