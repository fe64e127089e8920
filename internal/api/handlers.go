package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"dlnamedia/internal/catalog"
	"dlnamedia/internal/didl"
	"dlnamedia/internal/library"
	"dlnamedia/internal/streaming"
	"dlnamedia/internal/upnp"
)

const Version = "0.1.0"

type Library interface {
	Catalog() *catalog.Catalog
	UpdateID() uint32
	IsScanning() bool
	LastStats() (library.Stats, bool)
	Rebuild(ctx context.Context) error
}

type SessionLister interface {
	List() []streaming.SessionInfo
}

type Handler struct {
	lib      Library
	sessions SessionLister
	device   upnp.DeviceInfo
	logger   zerolog.Logger
}

func NewHandler(lib Library, sessions SessionLister, device upnp.DeviceInfo, logger zerolog.Logger) *Handler {
	return &Handler{
		lib:      lib,
		sessions: sessions,
		device:   device,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

func (h *Handler) Mount(r chi.Router) {
	r.Get("/health", h.Health)
	r.Post("/library/scan", h.ScanLibrary)
	r.Get("/objects/{id}", h.GetObject)
	r.Get("/sessions", h.Sessions)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	cat := h.lib.Catalog()
	resp := HealthResponse{
		Status:         "ok",
		Version:        Version,
		FriendlyName:   h.device.FriendlyName,
		UDN:            h.device.UDN,
		Objects:        cat.Len(),
		UpdateID:       h.lib.UpdateID(),
		CatalogBuiltAt: cat.BuiltAt(),
		Scanning:       h.lib.IsScanning(),
	}
	if stats, ok := h.lib.LastStats(); ok {
		resp.LastScan = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ScanLibrary(w http.ResponseWriter, r *http.Request) {
	if h.lib.IsScanning() {
		writeJSON(w, http.StatusOK, ScanResponse{
			Status:  "in_progress",
			Message: "Scan already in progress",
		})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := h.lib.Rebuild(ctx); err != nil {
			h.logger.Error().Err(err).Msg("scan failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, ScanResponse{
		Status:  "started",
		Message: "Library scan started",
	})
}

func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cat := h.lib.Catalog()

	obj, err := cat.Lookup(id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "OBJECT_NOT_FOUND", "Object not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("failed to look up object")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get object")
		return
	}

	base := upnp.BaseURL(r)
	resp := ObjectResponse{Object: objectNode(obj, base)}
	if obj.IsContainer() {
		children, _, err := cat.ListChildren(id, 0, 0)
		if err != nil {
			h.logger.Error().Err(err).Str("id", id).Msg("failed to list children")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list children")
			return
		}
		resp.Children = make([]ObjectNode, 0, len(children))
		for _, c := range children {
			resp.Children = append(resp.Children, objectNode(c, base))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	list := h.sessions.List()
	writeJSON(w, http.StatusOK, SessionsResponse{Count: len(list), Sessions: list})
}

func objectNode(obj *catalog.Object, baseURL string) ObjectNode {
	n := ObjectNode{
		ID:       obj.ID,
		ParentID: obj.ParentID,
		Title:    obj.Title,
		Kind:     obj.Kind.String(),
	}
	if obj.IsContainer() {
		n.ChildCount = obj.Container.ChildCount()
		if obj.Container.ArtPath != "" {
			n.ArtURL = didl.ArtURL(baseURL, obj.ID)
		}
		return n
	}
	if a := obj.Audio; a != nil {
		n.Duration = a.Source.Duration.Seconds()
		n.Artist = a.Tags.Artist
		n.Album = a.Tags.Album
		n.StreamURL = didl.ResourceURL(baseURL, obj.ID, a.DefaultTrack)
		if a.HasArt() {
			n.ArtURL = didl.ArtURL(baseURL, obj.ID)
		}
		for _, t := range a.Source.Tracks {
			n.Tracks = append(n.Tracks, TrackNode{
				Index:      t.Index,
				Codec:      t.Codec,
				Channels:   t.Channels,
				SampleRate: t.SampleRate,
				Language:   t.Language,
			})
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
