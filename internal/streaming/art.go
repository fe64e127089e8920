package streaming

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"dlnamedia/internal/catalog"
	"dlnamedia/internal/media"
)

const ArtPrefix = "/art/"

type ArtProvider interface {
	Get(ctx context.Context, src media.ArtSource) (media.Art, error)
}

// ArtHandler serves /art/{objectId}.
type ArtHandler struct {
	lib    Library
	art    ArtProvider
	logger zerolog.Logger
}

func NewArtHandler(lib Library, art ArtProvider, logger zerolog.Logger) *ArtHandler {
	return &ArtHandler{
		lib:    lib,
		art:    art,
		logger: logger.With().Str("component", "art").Logger(),
	}
}

func (h *ArtHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	escaped, ok := strings.CutPrefix(r.URL.EscapedPath(), ArtPrefix)
	if !ok || escaped == "" || strings.Contains(escaped, "/") {
		http.Error(w, "Bad art path", http.StatusBadRequest)
		return
	}
	id, err := url.PathUnescape(escaped)
	if err != nil {
		http.Error(w, "Bad art path", http.StatusBadRequest)
		return
	}

	obj, err := h.lib.Catalog().Lookup(id)
	if err != nil {
		http.Error(w, "Object not found", http.StatusNotFound)
		return
	}
	src, ok := artSource(obj)
	if !ok {
		http.Error(w, "No cover art", http.StatusNotFound)
		return
	}

	art, err := h.art.Get(r.Context(), src)
	if errors.Is(err, media.ErrNoArt) {
		http.Error(w, "No cover art", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("object_id", id).Msg("failed to load cover art")
		http.Error(w, "Failed to load cover art", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("contentFeatures.dlna.org", artFeatures(art.ContentType))
	w.Header().Set("transferMode.dlna.org", "Interactive")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(art.Data)
	}
}

func artSource(obj *catalog.Object) (media.ArtSource, bool) {
	switch {
	case obj.IsContainer():
		if obj.Container.ArtPath == "" {
			return media.ArtSource{}, false
		}
		return media.ArtSource{ID: obj.ID, SidecarPath: obj.Container.ArtPath}, true
	case obj.Audio != nil:
		a := obj.Audio
		if !a.HasArt() {
			return media.ArtSource{}, false
		}
		return media.ArtSource{
			ID:          obj.ID,
			MediaPath:   a.Source.Path,
			SidecarPath: a.ArtPath,
			Embedded:    a.EmbeddedArt,
			IsVideo:     a.Source.IsVideo,
			Duration:    a.Source.Duration,
		}, true
	}
	return media.ArtSource{}, false
}

func artFeatures(contentType string) string {
	pn := "JPEG_TN"
	if contentType == "image/png" {
		pn = "PNG_TN"
	}
	return "DLNA.ORG_PN=" + pn + ";DLNA.ORG_OP=00;DLNA.ORG_FLAGS=00D00000000000000000000000000000"
}
