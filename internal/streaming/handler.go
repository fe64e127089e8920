package streaming

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"dlnamedia/internal/catalog"
	"dlnamedia/internal/didl"
	"dlnamedia/internal/transcode"
)

const chunkSize = 32 << 10

type Library interface {
	Catalog() *catalog.Catalog
}

type ProfileSelector interface {
	Select(track catalog.Track) transcode.Profile
}

type Transcoder interface {
	Start(ctx context.Context, req transcode.Request) (*transcode.Session, error)
}

// Observer is told when streams start and finish.
type Observer interface {
	StreamStarted(profile string)
	StreamFinished(profile string, bytes int64, err error)
}

// Handler serves /stream/{objectId}/{track} by piping the track through a
// transcoder.
type Handler struct {
	lib        Library
	profiles   ProfileSelector
	transcoder Transcoder
	sessions   *Registry
	observer   Observer
	logger     zerolog.Logger
}

func NewHandler(lib Library, profiles ProfileSelector, transcoder Transcoder, sessions *Registry, logger zerolog.Logger) *Handler {
	return &Handler{
		lib:        lib,
		profiles:   profiles,
		transcoder: transcoder,
		sessions:   sessions,
		logger:     logger.With().Str("component", "streaming").Logger(),
	}
}

func (h *Handler) SetObserver(o Observer) {
	h.observer = o
}

func (h *Handler) Sessions() *Registry {
	return h.sessions
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, trackIndex, err := didl.ParseResourcePath(r.URL.EscapedPath())
	if err != nil {
		http.Error(w, "Bad stream path", http.StatusBadRequest)
		return
	}

	obj, err := h.lib.Catalog().Lookup(id)
	if err != nil || obj.Audio == nil {
		http.Error(w, "Object not found", http.StatusNotFound)
		return
	}
	audio := obj.Audio
	track, ok := audio.Track(trackIndex)
	if !ok {
		http.Error(w, "No such track", http.StatusBadRequest)
		return
	}

	profile := h.profiles.Select(track)
	seek, offset, timeSeek, err := h.resolveSeek(r, profile, audio.Source.Duration)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if audio.Source.Duration > 0 && seek >= audio.Source.Duration {
		w.Header().Set("Content-Range", "bytes */*")
		http.Error(w, "Seek beyond end of media", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", profile.MimeType)
	hdr.Set("Accept-Ranges", "none")
	hdr.Set("transferMode.dlna.org", "Streaming")
	hdr.Set("contentFeatures.dlna.org", didl.ContentFeatures(profile.Format()))
	hdr.Set("Cache-Control", "no-cache")
	if timeSeek {
		hdr.Set("TimeSeekRange.dlna.org", timeSeekResponse(seek, audio.Source.Duration))
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	sess := &Session{
		ObjectID:   id,
		Title:      obj.Title,
		Track:      trackIndex,
		Profile:    profile.Name,
		Offset:     offset,
		Seek:       seek,
		StartedAt:  time.Now(),
		RemoteAddr: r.RemoteAddr,
	}
	h.sessions.add(sess)
	defer h.sessions.remove(sess.ID)

	h.stream(w, r, sess, transcode.Request{
		Path:        audio.Source.Path,
		StreamIndex: track.StreamIndex,
		Profile:     profile,
		Seek:        seek,
	})
}

// resolveSeek prefers TimeSeekRange.dlna.org and otherwise converts a byte
// Range start into a time offset at the profile's estimated byte rate.
func (h *Handler) resolveSeek(r *http.Request, p transcode.Profile, duration time.Duration) (seek time.Duration, offset int64, timeSeek bool, err error) {
	if v := r.Header.Get("TimeSeekRange.dlna.org"); v != "" {
		seek, err = parseTimeSeek(v)
		return seek, 0, true, err
	}
	offset, ok := parseByteRangeStart(r.Header.Get("Range"))
	if !ok || offset == 0 {
		return 0, 0, false, nil
	}
	if p.ByteRate <= 0 {
		return 0, offset, false, nil
	}
	return secondsToSeek(float64(offset) / float64(p.ByteRate)), offset, false, nil
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, sess *Session, req transcode.Request) {
	log := h.logger.With().
		Str("session", sess.ID).
		Str("object_id", sess.ObjectID).
		Int("track", sess.Track).
		Str("profile", sess.Profile).
		Str("remote", sess.RemoteAddr).
		Logger()

	pipe, err := h.transcoder.Start(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("failed to start transcoder")
		http.Error(w, "Transcoder unavailable", http.StatusInternalServerError)
		return
	}
	defer pipe.Cancel()

	if h.observer != nil {
		h.observer.StreamStarted(sess.Profile)
	}

	buf := make([]byte, chunkSize)
	n, readErr := pipe.Read(buf)
	if n == 0 && readErr != nil {
		log.Error().Err(readErr).Msg("transcoder produced no output")
		http.Error(w, "Transcoding failed", http.StatusInternalServerError)
		h.finish(sess, readErr)
		return
	}

	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	log.Info().Dur("seek", sess.Seek).Msg("stream started")

	var (
		streamErr  error
		clientGone bool
	)
	for {
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				clientGone = true
				break
			}
			sess.sent.Add(int64(n))
			rc.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				streamErr = readErr
			}
			break
		}
		n, readErr = pipe.Read(buf)
	}

	switch {
	case clientGone || r.Context().Err() != nil || errors.Is(streamErr, transcode.ErrCanceled):
		log.Info().Int64("bytes", sess.sent.Load()).Msg("client disconnected")
		streamErr = nil
	case streamErr == nil:
		log.Info().Int64("bytes", sess.sent.Load()).Msg("stream finished")
	default:
		log.Warn().Err(streamErr).Int64("bytes", sess.sent.Load()).Msg("stream truncated")
	}
	h.finish(sess, streamErr)
}

func (h *Handler) finish(sess *Session, err error) {
	if h.observer != nil {
		h.observer.StreamFinished(sess.Profile, sess.sent.Load(), err)
	}
}
