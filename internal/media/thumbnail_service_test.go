package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPickSidecar(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{[]string{"song.mp3", "Folder.JPG", "cover.png"}, "cover.png"},
		{[]string{"front.jpeg", "folder.png"}, "folder.png"},
		{[]string{"song.mp3", "notes.txt"}, ""},
		{nil, ""},
	}

	for _, tt := range tests {
		if got := PickSidecar(tt.names); got != tt.want {
			t.Errorf("PickSidecar(%v) = %q, want %q", tt.names, got, tt.want)
		}
	}
}

func TestArtService_SidecarIsCached(t *testing.T) {
	dir := t.TempDir()
	cover := filepath.Join(dir, "cover.jpg")
	if err := os.WriteFile(cover, []byte("jpeg-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	svc, err := NewArtService(nil, 8, 1<<20, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	src := ArtSource{ID: "abc", SidecarPath: cover}
	art, err := svc.Get(context.Background(), src)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if art.ContentType != "image/jpeg" || !bytes.Equal(art.Data, []byte("jpeg-bytes")) {
		t.Fatalf("unexpected art: %+v", art)
	}

	// Served from memory while the file is unchanged.
	if _, err := svc.Get(context.Background(), src); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if count, size := svc.CacheStats(); count != 1 || size != int64(len("jpeg-bytes")) {
		t.Fatalf("unexpected stats: count=%d size=%d", count, size)
	}
}

func TestArtService_ReplacedSidecarIsReloaded(t *testing.T) {
	dir := t.TempDir()
	cover := filepath.Join(dir, "cover.jpg")
	if err := os.WriteFile(cover, []byte("old-art"), 0644); err != nil {
		t.Fatal(err)
	}
	svc, err := NewArtService(nil, 8, 1<<20, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	src := ArtSource{ID: "album", SidecarPath: cover}
	if _, err := svc.Get(context.Background(), src); err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := os.WriteFile(cover, []byte("new-art!"), 0644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(cover, later, later); err != nil {
		t.Fatal(err)
	}

	art, err := svc.Get(context.Background(), src)
	if err != nil {
		t.Fatalf("get after replace: %v", err)
	}
	if string(art.Data) != "new-art!" {
		t.Fatalf("stale art served: %q", art.Data)
	}
	if count, size := svc.CacheStats(); count != 1 || size != int64(len("new-art!")) {
		t.Fatalf("old version still cached: count=%d size=%d", count, size)
	}

	os.Remove(cover)
	if _, err := svc.Get(context.Background(), src); !errors.Is(err, ErrNoArt) {
		t.Fatalf("expected ErrNoArt for a removed sidecar, got %v", err)
	}
}

func TestArtService_CanceledCallerDoesNotFailLoad(t *testing.T) {
	dir := t.TempDir()
	cover := filepath.Join(dir, "cover.png")
	if err := os.WriteFile(cover, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	svc, err := NewArtService(nil, 8, 1<<20, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	art, err := svc.Get(ctx, ArtSource{ID: "p", SidecarPath: cover})
	if err != nil {
		t.Fatalf("get with canceled context: %v", err)
	}
	if art.ContentType != "image/png" {
		t.Fatalf("content type %q", art.ContentType)
	}
}

func TestArtService_NoArt(t *testing.T) {
	svc, err := NewArtService(nil, 8, 1<<20, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.Get(context.Background(), ArtSource{ID: "x", MediaPath: "/does/not/exist.mp3"})
	if !errors.Is(err, ErrNoArt) {
		t.Fatalf("expected ErrNoArt, got %v", err)
	}
}

func TestArtService_ByteCapEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewArtService(nil, 100, 25, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		p := filepath.Join(dir, id+".png")
		if err := os.WriteFile(p, bytes.Repeat([]byte(id), 10), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Get(context.Background(), ArtSource{ID: id, SidecarPath: p}); err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
	}

	count, size := svc.CacheStats()
	if count != 2 || size != 20 {
		t.Fatalf("expected 2 entries / 20 bytes, got %d / %d", count, size)
	}
	for _, key := range svc.cache.Keys() {
		if strings.HasPrefix(key, "a-") {
			t.Fatal("oldest entry should have been evicted")
		}
	}
}

func TestFrameOffset(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     time.Duration
	}{
		{0, 5 * time.Second},
		{10 * time.Second, time.Second},
		{2 * time.Hour, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := frameOffset(tt.duration); got != tt.want {
			t.Errorf("frameOffset(%v) = %v, want %v", tt.duration, got, tt.want)
		}
	}
}

func TestFormats(t *testing.T) {
	if !IsSupportedAudio("Song.FLAC") || IsSupportedAudio("movie.mkv") {
		t.Error("audio extension detection wrong")
	}
	if !IsSupportedVideo("movie.mkv") || !IsSupportedMedia("movie.mkv") {
		t.Error("video extension detection wrong")
	}
	if IsSupportedMedia("notes.txt") {
		t.Error("text file should not be media")
	}
	if ct := GetContentType("a.mp3"); ct != "audio/mpeg" {
		t.Errorf("mp3 content type: %s", ct)
	}
	if ct := GetContentType("a.bin"); ct != "application/octet-stream" {
		t.Errorf("unknown content type: %s", ct)
	}
}
