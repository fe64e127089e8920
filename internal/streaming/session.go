package streaming

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one in-flight stream request.
type Session struct {
	ID         string
	ObjectID   string
	Title      string
	Track      int
	Profile    string
	Offset     int64
	Seek       time.Duration
	StartedAt  time.Time
	RemoteAddr string

	sent atomic.Int64
}

// SessionInfo is a point-in-time copy of a Session.
type SessionInfo struct {
	ID          string    `json:"id"`
	ObjectID    string    `json:"object_id"`
	Title       string    `json:"title"`
	Track       int       `json:"track"`
	Profile     string    `json:"profile"`
	Offset      int64     `json:"offset"`
	SeekSeconds float64   `json:"seek_seconds"`
	StartedAt   time.Time `json:"started_at"`
	RemoteAddr  string    `json:"remote_addr"`
	BytesSent   int64     `json:"bytes_sent"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		ObjectID:    s.ObjectID,
		Title:       s.Title,
		Track:       s.Track,
		Profile:     s.Profile,
		Offset:      s.Offset,
		SeekSeconds: s.Seek.Seconds(),
		StartedAt:   s.StartedAt,
		RemoteAddr:  s.RemoteAddr,
		BytesSent:   s.sent.Load(),
	}
}

// Registry holds the sessions of requests currently being served.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) add(s *Session) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns the active sessions, oldest first.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
