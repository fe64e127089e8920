package media

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var ErrNoArt = errors.New("no cover art")

// sidecarNames are matched case-insensitively, in order of preference.
var sidecarNames = []string{
	"cover.jpg", "cover.jpeg", "cover.png",
	"folder.jpg", "folder.jpeg", "folder.png",
	"front.jpg", "front.jpeg", "front.png",
}

// PickSidecar returns the preferred cover image among a directory's file
// names, or "".
func PickSidecar(names []string) string {
	lower := make(map[string]string, len(names))
	for _, n := range names {
		lower[strings.ToLower(n)] = n
	}
	for _, want := range sidecarNames {
		if n, ok := lower[want]; ok {
			return n
		}
	}
	return ""
}

// ArtSource tells the art service where cover art for an object may come
// from.
type ArtSource struct {
	ID          string
	MediaPath   string
	SidecarPath string
	Embedded    bool
	IsVideo     bool
	Duration    time.Duration
}

type Art struct {
	Data        []byte
	ContentType string
}

// ArtService resolves and caches cover art in memory.
type ArtService struct {
	frames   *FrameExtractor
	cache    *lru.Cache[string, Art]
	maxBytes int64
	logger   zerolog.Logger

	mu    sync.Mutex
	bytes int64
	// current maps an object id to the cache key of its latest art.
	current map[string]string

	group singleflight.Group
}

func NewArtService(frames *FrameExtractor, capacity int, maxBytes int64, logger zerolog.Logger) (*ArtService, error) {
	s := &ArtService{
		frames:   frames,
		maxBytes: maxBytes,
		logger:   logger,
		current:  make(map[string]string),
	}
	if capacity <= 0 {
		capacity = 256
	}
	cache, err := lru.NewWithEvict[string, Art](capacity, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

func (s *ArtService) onEvict(_ string, art Art) {
	s.mu.Lock()
	s.bytes -= int64(len(art.Data))
	s.mu.Unlock()
}

// Get returns cover art for src, preferring a sidecar image, then the
// embedded tag picture, then an extracted video frame. Cached art is
// replaced once the file it came from changes.
func (s *ArtService) Get(ctx context.Context, src ArtSource) (Art, error) {
	key := cacheKey(src)
	if art, ok := s.cache.Get(key); ok {
		return art, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		art, err := s.load(loadCtx, src, key)
		if err != nil {
			return Art{}, err
		}
		s.store(src.ID, key, art)
		return art, nil
	})
	if err != nil {
		return Art{}, err
	}
	return v.(Art), nil
}

// cacheKey versions the object id by the modification time of the file
// art would be read from first.
func cacheKey(src ArtSource) string {
	path := src.SidecarPath
	if path == "" {
		path = src.MediaPath
	}
	if path == "" {
		return src.ID
	}
	info, err := os.Stat(path)
	if err != nil {
		return src.ID
	}
	return src.ID + "-" + strconv.FormatInt(info.ModTime().UnixNano(), 36)
}

func (s *ArtService) load(ctx context.Context, src ArtSource, key string) (Art, error) {
	if src.SidecarPath != "" {
		data, err := os.ReadFile(src.SidecarPath)
		if err == nil {
			return Art{Data: data, ContentType: GetContentType(src.SidecarPath)}, nil
		}
		s.logger.Debug().Err(err).Str("path", src.SidecarPath).Msg("sidecar art unreadable")
	}

	if src.Embedded && src.MediaPath != "" {
		data, mimeType, err := EmbeddedPicture(src.MediaPath)
		if err == nil {
			return Art{Data: data, ContentType: mimeType}, nil
		}
		s.logger.Debug().Err(err).Str("path", src.MediaPath).Msg("embedded art unreadable")
	}

	if src.IsVideo && s.frames != nil && s.frames.IsAvailable() {
		framePath, err := s.frames.Extract(ctx, src.MediaPath, key, src.Duration)
		if err != nil {
			return Art{}, err
		}
		data, err := os.ReadFile(framePath)
		if err != nil {
			return Art{}, err
		}
		return Art{Data: data, ContentType: "image/jpeg"}, nil
	}

	return Art{}, ErrNoArt
}

func (s *ArtService) store(id, key string, art Art) {
	s.mu.Lock()
	previous, ok := s.current[id]
	s.current[id] = key
	s.mu.Unlock()
	if ok && previous != key {
		s.cache.Remove(previous)
		if s.frames != nil {
			os.Remove(s.frames.Path(previous))
		}
	}

	size := int64(len(art.Data))
	if s.maxBytes > 0 && size > s.maxBytes {
		return
	}

	// Replacing an existing key fires onEvict for the old value.
	s.cache.Remove(key)
	s.cache.Add(key, art)

	s.mu.Lock()
	s.bytes += size
	over := s.maxBytes > 0 && s.bytes > s.maxBytes
	s.mu.Unlock()

	for over {
		if _, _, ok := s.cache.RemoveOldest(); !ok {
			return
		}
		s.mu.Lock()
		over = s.bytes > s.maxBytes
		s.mu.Unlock()
	}
}

// CacheStats returns the number of cached images and their total size.
func (s *ArtService) CacheStats() (count int, size int64) {
	count = s.cache.Len()
	s.mu.Lock()
	defer s.mu.Unlock()
	return count, s.bytes
}
