package upnp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func init() {
	chi.RegisterMethod("SUBSCRIBE")
	chi.RegisterMethod("UNSUBSCRIBE")
}

const (
	xmlContentType   = `text/xml; charset="utf-8"`
	maxControlBody   = 64 << 10
	subscribeTimeout = 1800 * time.Second
)

// Service is one UPnP service hosted by the device.
type Service interface {
	// Name is the URL path segment, e.g. "ContentDirectory".
	Name() string
	Type() string
	ID() string
	SCPD() SCPD
	Handle(ctx context.Context, call *Call) ([]Arg, error)
}

// ActionObserver is told about every control request. faultCode is 0 on
// success.
type ActionObserver interface {
	ObserveAction(service, action string, faultCode int, elapsed time.Duration)
}

// Handler serves the device description, the service descriptions and
// control and event endpoints for every hosted service.
type Handler struct {
	device   DeviceInfo
	logger   zerolog.Logger
	services map[string]Service
	rootXML  []byte
	scpdXML  map[string][]byte
	observer ActionObserver

	mu   sync.Mutex
	subs map[string]subscription
	now  func() time.Time
}

type subscription struct {
	service  string
	callback string
	expires  time.Time
}

// NewHandler renders every description once. They are served unchanged for
// the lifetime of the handler.
func NewHandler(device DeviceInfo, logger zerolog.Logger, services ...Service) (*Handler, error) {
	h := &Handler{
		device:   device,
		logger:   logger.With().Str("component", "upnp").Logger(),
		services: make(map[string]Service, len(services)),
		scpdXML:  make(map[string][]byte, len(services)),
		subs:     make(map[string]subscription),
		now:      time.Now,
	}

	for _, s := range services {
		if _, dup := h.services[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate service %s", s.Name())
		}
		doc, err := marshalSCPD(s.SCPD())
		if err != nil {
			return nil, fmt.Errorf("render %s description: %w", s.Name(), err)
		}
		h.services[s.Name()] = s
		h.scpdXML[s.Name()] = doc
	}

	root, err := marshalRootDescription(device, services)
	if err != nil {
		return nil, fmt.Errorf("render device description: %w", err)
	}
	h.rootXML = root
	return h, nil
}

func (h *Handler) SetObserver(o ActionObserver) {
	h.observer = o
}

func (h *Handler) Mount(r chi.Router) {
	r.Get("/description.xml", h.DeviceDescription)
	r.Get("/{service}/description.xml", h.ServiceDescription)
	r.Post("/{service}/control", h.Control)
	r.Method("SUBSCRIBE", "/{service}/event", http.HandlerFunc(h.Subscribe))
	r.Method("UNSUBSCRIBE", "/{service}/event", http.HandlerFunc(h.Unsubscribe))
}

// BaseURL is the scheme and host of r as the client addressed it.
func BaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (h *Handler) DeviceDescription(w http.ResponseWriter, r *http.Request) {
	h.writeXML(w, http.StatusOK, h.rootXML)
}

func (h *Handler) ServiceDescription(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.scpdXML[chi.URLParam(r, "service")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.writeXML(w, http.StatusOK, doc)
}

func (h *Handler) Control(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.services[chi.URLParam(r, "service")]
	if !ok {
		http.NotFound(w, r)
		return
	}

	start := time.Now()
	call, args, err := h.dispatch(w, r, svc)

	action := "unknown"
	if call != nil {
		action = call.Action
	}
	faultCode := 0
	if err != nil {
		fault := AsError(err)
		faultCode = fault.Code
		h.logger.Warn().
			Str("service", svc.Name()).
			Str("action", action).
			Int("code", fault.Code).
			Str("remote", r.RemoteAddr).
			Msg(fault.Description)
		h.writeXML(w, http.StatusInternalServerError, MarshalFault(fault))
	} else {
		h.writeXML(w, http.StatusOK, MarshalResponse(svc.Type(), call.Action, args))
	}

	if h.observer != nil {
		h.observer.ObserveAction(svc.Name(), action, faultCode, time.Since(start))
	}
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, svc Service) (*Call, []Arg, error) {
	call, err := ParseCall(http.MaxBytesReader(w, r.Body, maxControlBody))
	if err != nil {
		return nil, nil, err
	}
	if header := r.Header.Get("SOAPACTION"); header != "" {
		_, action, err := ParseSOAPAction(header)
		if err != nil {
			return call, nil, err
		}
		if action != call.Action {
			return call, nil, Errorf(ErrCodeInvalidAction, "SOAPACTION %s does not match body action %s", action, call.Action)
		}
	}
	if !svc.SCPD().HasAction(call.Action) {
		return call, nil, Errorf(ErrCodeInvalidAction, "%s has no action %s", svc.Name(), call.Action)
	}

	call.ServiceType = svc.Type()
	call.BaseURL = BaseURL(r)
	args, err := svc.Handle(r.Context(), call)
	return call, args, err
}

func (h *Handler) writeXML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", xmlContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("EXT", "")
	w.Header().Set("Server", h.device.ServerString())
	w.WriteHeader(status)
	w.Write(body)
}

// Subscribe accepts GENA subscriptions and renewals. No events are sent.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	if _, ok := h.services[name]; !ok {
		http.NotFound(w, r)
		return
	}

	timeout := parseTimeout(r.Header.Get("TIMEOUT"))
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked(now)

	sid := r.Header.Get("SID")
	if sid != "" {
		if r.Header.Get("CALLBACK") != "" || r.Header.Get("NT") != "" {
			http.Error(w, "Incompatible header fields", http.StatusBadRequest)
			return
		}
		sub, ok := h.subs[sid]
		if !ok || sub.service != name {
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
		sub.expires = now.Add(timeout)
		h.subs[sid] = sub
	} else {
		callback := strings.Trim(r.Header.Get("CALLBACK"), "<> ")
		if r.Header.Get("NT") != "upnp:event" || callback == "" {
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
		sid = "uuid:" + uuid.NewString()
		h.subs[sid] = subscription{service: name, callback: callback, expires: now.Add(timeout)}
		h.logger.Debug().Str("service", name).Str("sid", sid).Str("callback", callback).Msg("subscribed")
	}

	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", "Second-"+strconv.Itoa(int(timeout/time.Second)))
	w.Header().Set("Server", h.device.ServerString())
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get("SID")
	if sid == "" {
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sid]; !ok {
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	}
	delete(h.subs, sid)
	w.WriteHeader(http.StatusOK)
}

// Subscriptions returns the number of unexpired subscriptions.
func (h *Handler) Subscriptions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked(h.now())
	return len(h.subs)
}

func (h *Handler) pruneLocked(now time.Time) {
	for sid, sub := range h.subs {
		if now.After(sub.expires) {
			delete(h.subs, sid)
		}
	}
}

// parseTimeout reads "Second-N". Infinite or missing values get the
// default; requests above it are capped.
func parseTimeout(v string) time.Duration {
	secs, ok := strings.CutPrefix(strings.TrimSpace(v), "Second-")
	if !ok {
		return subscribeTimeout
	}
	n, err := strconv.Atoi(secs)
	if err != nil || n <= 0 {
		return subscribeTimeout
	}
	d := time.Duration(n) * time.Second
	if d > subscribeTimeout {
		return subscribeTimeout
	}
	return d
}
