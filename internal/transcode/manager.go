package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrCanceled    = errors.New("transcode canceled")
	ErrReadTimeout = errors.New("transcoder produced no output in time")
	ErrClosed      = errors.New("transcode manager closed")
)

type Config struct {
	FFmpeg      string
	ReadTimeout time.Duration
	KillGrace   time.Duration
	StderrLimit int
	// Command builds the process; nil means exec.Command.
	Command func(name string, args ...string) *exec.Cmd
}

// Request selects what to decode and how to encode it.
type Request struct {
	Path        string
	StreamIndex int
	Profile     Profile
	Seek        time.Duration
}

// Args returns the ffmpeg argument list for req.
func Args(req Request) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if req.Seek > 0 {
		args = append(args, "-ss", strconv.FormatFloat(req.Seek.Seconds(), 'f', 3, 64))
	}
	args = append(args,
		"-i", req.Path,
		"-map", "0:"+strconv.Itoa(req.StreamIndex),
		"-vn", "-sn", "-dn",
	)
	args = append(args, req.Profile.CodecArgs...)
	return append(args, "-f", req.Profile.Muxer, "pipe:1")
}

// Manager launches transcoder processes and keeps track of the live ones.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 2 * time.Second
	}
	if cfg.StderrLimit <= 0 {
		cfg.StderrLimit = 4096
	}
	if cfg.Command == nil {
		cfg.Command = exec.Command
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.With().Str("component", "transcode").Logger(),
		sessions: make(map[*Session]struct{}),
	}
}

// Start launches a transcoder for req. The session is canceled when ctx is
// done; callers must still Cancel it when finished reading.
func (m *Manager) Start(ctx context.Context, req Request) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.mu.Unlock()

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create pipe: %w", err)
	}

	stderr := newTailBuffer(m.cfg.StderrLimit)
	cmd := m.cfg.Command(m.cfg.FFmpeg, Args(req)...)
	cmd.Stdout = w
	cmd.Stderr = stderr
	cmd.WaitDelay = m.cfg.KillGrace

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("start %s: %w", m.cfg.FFmpeg, err)
	}
	// The child holds its own copy of the write end.
	w.Close()

	s := &Session{
		cmd:         cmd,
		stdout:      r,
		stderr:      stderr,
		readTimeout: m.cfg.ReadTimeout,
		killGrace:   m.cfg.KillGrace,
		done:        make(chan struct{}),
		logger:      m.logger.With().Int("pid", cmd.Process.Pid).Logger(),
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()

	s.release = func() {
		m.mu.Lock()
		delete(m.sessions, s)
		m.mu.Unlock()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Cancel()
		return nil, ErrClosed
	}
	m.sessions[s] = struct{}{}
	m.mu.Unlock()

	s.mu.Lock()
	s.stopAfter = context.AfterFunc(ctx, s.Cancel)
	s.mu.Unlock()

	s.logger.Debug().
		Str("path", req.Path).
		Int("stream", req.StreamIndex).
		Str("profile", req.Profile.Name).
		Dur("seek", req.Seek).
		Msg("transcoder started")
	return s, nil
}

// Active returns the number of running sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close cancels every live session and refuses new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	live := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range live {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Cancel()
		}(s)
	}
	wg.Wait()
	if len(live) > 0 {
		m.logger.Info().Int("sessions", len(live)).Msg("canceled running transcoders")
	}
}

// Session is one running transcoder. Read returns its encoded output.
type Session struct {
	cmd         *exec.Cmd
	stdout      *os.File
	stderr      *tailBuffer
	readTimeout time.Duration
	killGrace   time.Duration
	logger      zerolog.Logger

	done    chan struct{}
	waitErr error

	once      sync.Once
	mu        sync.Mutex
	canceled  bool
	release   func()
	stopAfter func() bool
}

func (s *Session) Pid() int {
	return s.cmd.Process.Pid
}

// Read reads transcoder output. Each call waits at most the configured read
// timeout. At end of output it reports the process exit status: io.EOF on
// success, the exit error otherwise.
func (s *Session) Read(p []byte) (int, error) {
	if s.readTimeout > 0 {
		s.stdout.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	n, err := s.stdout.Read(p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return n, ErrReadTimeout
	case errors.Is(err, io.EOF):
		if exitErr := s.waitExit(); exitErr != nil {
			return n, exitErr
		}
		return n, io.EOF
	case errors.Is(err, os.ErrClosed):
		return n, ErrCanceled
	default:
		return n, err
	}
}

func (s *Session) waitExit() error {
	t := time.NewTimer(s.killGrace)
	defer t.Stop()
	select {
	case <-s.done:
	case <-t.C:
		return nil
	}
	return s.Err()
}

// Err returns nil while running or after a clean exit, ErrCanceled after
// Cancel, and the exit error with the tail of stderr otherwise.
func (s *Session) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	s.mu.Lock()
	canceled := s.canceled
	s.mu.Unlock()
	if canceled {
		return ErrCanceled
	}
	if s.waitErr == nil {
		return nil
	}
	if tail := s.stderr.String(); tail != "" {
		return fmt.Errorf("transcoder failed: %w: %s", s.waitErr, tail)
	}
	return fmt.Errorf("transcoder failed: %w", s.waitErr)
}

// Cancel kills the process and releases its descriptors. It is safe to call
// more than once and after the process has exited.
func (s *Session) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stopAfter
		s.mu.Unlock()
		if stop != nil {
			stop()
		}

		exited := false
		select {
		case <-s.done:
			exited = true
		default:
		}
		if !exited {
			s.mu.Lock()
			s.canceled = true
			s.mu.Unlock()
			if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				s.logger.Warn().Err(err).Msg("kill transcoder")
			}
		}
		s.stdout.Close()

		t := time.NewTimer(s.killGrace)
		defer t.Stop()
		select {
		case <-s.done:
		case <-t.C:
			s.logger.Warn().Dur("grace", s.killGrace).Msg("transcoder did not exit in time")
		}

		if s.release != nil {
			s.release()
		}
		s.logger.Debug().Bool("killed", !exited).Msg("transcoder stopped")
	})
}

// Done is closed once the process has been reaped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
