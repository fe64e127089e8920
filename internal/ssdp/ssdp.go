// Package ssdp announces the media server on the local network and answers
// discovery queries.
package ssdp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const (
	GroupAddr = "239.255.255.250:1900"

	DefaultNotifyInterval = 30 * time.Second
	DefaultMaxAge         = 1800

	multicastTTL = 2
	maxMX        = 5
	rootDevice   = "upnp:rootdevice"
	searchAll    = "ssdp:all"
)

type Config struct {
	UDN            string // "uuid:..."
	DeviceType     string
	ServiceTypes   []string
	ServerString   string
	NotifyInterval time.Duration
	MaxAge         int
}

// Observer is told about traffic a Server produces.
type Observer interface {
	NotifySent(nts string, count int)
	SearchAnswered(st string, responses int)
}

// Server announces one device on one interface and answers M-SEARCH
// queries received there.
type Server struct {
	cfg      Config
	iface    *net.Interface
	location string
	group    net.Addr
	observer Observer
	logger   zerolog.Logger

	// delay picks the response delay for a query with the given MX.
	delay func(mx int) time.Duration
}

// New returns a Server advertising location on iface. A nil iface leaves
// the choice to the kernel.
func New(cfg Config, iface *net.Interface, location string, logger zerolog.Logger) *Server {
	if cfg.NotifyInterval <= 0 {
		cfg.NotifyInterval = DefaultNotifyInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.NotifyInterval >= time.Duration(cfg.MaxAge)*time.Second {
		cfg.NotifyInterval = time.Duration(cfg.MaxAge) * time.Second / 2
	}
	group, _ := net.ResolveUDPAddr("udp4", GroupAddr)

	name := "default"
	if iface != nil {
		name = iface.Name
	}
	return &Server{
		cfg:      cfg,
		iface:    iface,
		location: location,
		group:    group,
		logger:   logger.With().Str("component", "ssdp").Str("interface", name).Logger(),
		delay:    randomDelay,
	}
}

func (s *Server) SetObserver(o Observer) {
	s.observer = o
}

func (s *Server) Location() string {
	return s.location
}

func randomDelay(mx int) time.Duration {
	return rand.N(time.Duration(mx) * time.Second)
}

// Targets lists every notification type the device advertises.
func (s *Server) Targets() []string {
	targets := []string{rootDevice, s.cfg.UDN, s.cfg.DeviceType}
	return append(targets, s.cfg.ServiceTypes...)
}

func (s *Server) usn(target string) string {
	if target == s.cfg.UDN {
		return s.cfg.UDN
	}
	return s.cfg.UDN + "::" + target
}

// Run joins the SSDP group and serves until ctx is done, then sends
// ssdp:byebye for every target.
func (s *Server) Run(ctx context.Context) error {
	group := s.group.(*net.UDPAddr)
	conn, err := net.ListenMulticastUDP("udp4", s.iface, group)
	if err != nil {
		return fmt.Errorf("listen %s: %w", GroupAddr, err)
	}
	p := ipv4.NewPacketConn(conn)
	if s.iface != nil {
		if err := p.SetMulticastInterface(s.iface); err != nil {
			conn.Close()
			return fmt.Errorf("set multicast interface: %w", err)
		}
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		s.logger.Debug().Err(err).Msg("multicast loopback not enabled")
	}
	return s.serveConn(ctx, p)
}

func (s *Server) serveConn(ctx context.Context, p *ipv4.PacketConn) error {
	defer p.Close()

	// A failed read stops the announcer along with the responder.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := p.SetMulticastTTL(multicastTTL); err != nil {
		s.logger.Debug().Err(err).Msg("multicast ttl not set")
	}
	if err := p.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		s.logger.Debug().Err(err).Msg("interface control messages unavailable")
	}

	s.notify(p, "ssdp:alive")
	s.logger.Info().Str("location", s.location).Int("targets", len(s.Targets())).Msg("ssdp announcing")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cfg.NotifyInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.notify(p, "ssdp:alive")
			}
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		p.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 2048)
	var readErr error
	for {
		n, cm, src, err := p.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil {
				readErr = fmt.Errorf("read: %w", err)
				s.logger.Error().Err(err).Msg("ssdp read failed")
			}
			cancel()
			break
		}
		if cm != nil && s.iface != nil && cm.IfIndex != 0 && cm.IfIndex != s.iface.Index {
			continue
		}
		q, ok := parseSearch(buf[:n])
		if !ok {
			continue
		}
		targets := s.match(q.st)
		if len(targets) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.respond(ctx, p, src, q, targets)
		}()
	}

	wg.Wait()
	s.notify(p, "ssdp:byebye")
	s.logger.Info().Msg("ssdp stopped")
	return readErr
}

type search struct {
	st string
	mx int
}

// parseSearch accepts an M-SEARCH request with MAN "ssdp:discover".
func parseSearch(b []byte) (search, bool) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(b)))
	if err != nil || req.Method != "M-SEARCH" {
		return search{}, false
	}
	if strings.Trim(req.Header.Get("MAN"), `"`) != "ssdp:discover" {
		return search{}, false
	}
	st := strings.TrimSpace(req.Header.Get("ST"))
	if st == "" {
		return search{}, false
	}
	mx, err := strconv.Atoi(strings.TrimSpace(req.Header.Get("MX")))
	if err != nil || mx < 1 {
		mx = 1
	}
	return search{st: st, mx: min(mx, maxMX)}, true
}

func (s *Server) match(st string) []string {
	if st == searchAll {
		return s.Targets()
	}
	for _, t := range s.Targets() {
		if t == st {
			return []string{t}
		}
	}
	return nil
}

func (s *Server) respond(ctx context.Context, p *ipv4.PacketConn, dst net.Addr, q search, targets []string) {
	if d := s.delay(q.mx); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}

	sent := 0
	for _, target := range targets {
		if _, err := p.WriteTo(s.response(target), nil, dst); err != nil {
			s.logger.Warn().Err(err).Str("to", dst.String()).Msg("failed to answer search")
			break
		}
		sent++
	}
	s.logger.Debug().Str("st", q.st).Str("from", dst.String()).Int("responses", sent).Msg("answered search")
	if s.observer != nil {
		s.observer.SearchAnswered(q.st, sent)
	}
}

func (s *Server) response(target string) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 200 OK\r\n")
	fmt.Fprintf(&b, "CACHE-CONTROL: max-age=%d\r\n", s.cfg.MaxAge)
	fmt.Fprintf(&b, "DATE: %s\r\n", time.Now().UTC().Format(http.TimeFormat))
	b.WriteString("EXT:\r\n")
	fmt.Fprintf(&b, "LOCATION: %s\r\n", s.location)
	fmt.Fprintf(&b, "SERVER: %s\r\n", s.cfg.ServerString)
	fmt.Fprintf(&b, "ST: %s\r\n", target)
	fmt.Fprintf(&b, "USN: %s\r\n", s.usn(target))
	b.WriteString("Content-Length: 0\r\n\r\n")
	return []byte(b.String())
}

func (s *Server) notification(target, nts string) []byte {
	var b strings.Builder
	b.WriteString("NOTIFY * HTTP/1.1\r\n")
	fmt.Fprintf(&b, "HOST: %s\r\n", GroupAddr)
	if nts == "ssdp:alive" {
		fmt.Fprintf(&b, "CACHE-CONTROL: max-age=%d\r\n", s.cfg.MaxAge)
		fmt.Fprintf(&b, "LOCATION: %s\r\n", s.location)
		fmt.Fprintf(&b, "SERVER: %s\r\n", s.cfg.ServerString)
	}
	fmt.Fprintf(&b, "NT: %s\r\n", target)
	fmt.Fprintf(&b, "NTS: %s\r\n", nts)
	fmt.Fprintf(&b, "USN: %s\r\n", s.usn(target))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (s *Server) notify(p *ipv4.PacketConn, nts string) {
	sent := 0
	for _, target := range s.Targets() {
		if _, err := p.WriteTo(s.notification(target, nts), nil, s.group); err != nil {
			s.logger.Warn().Err(err).Str("nts", nts).Msg("failed to send notification")
			continue
		}
		sent++
	}
	if s.observer != nil {
		s.observer.NotifySent(nts, sent)
	}
}

// Interface is a network interface SSDP runs on and the address the
// device is reachable at there.
type Interface struct {
	Iface *net.Interface
	IP    net.IP
}

var ErrNoInterfaces = errors.New("no usable multicast interfaces")

// Interfaces returns the named interfaces, or every up multicast-capable
// non-loopback interface with an IPv4 address when names is empty.
func Interfaces(names []string) ([]Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var out []Interface
	for i := range all {
		iface := &all[i]
		if len(wanted) > 0 {
			if !wanted[iface.Name] {
				continue
			}
		} else if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if ip := ipv4Addr(iface); ip != nil {
			out = append(out, Interface{Iface: iface, IP: ip})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoInterfaces
	}
	return out, nil
}

func ipv4Addr(iface *net.Interface) net.IP {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4
			}
		}
	}
	return nil
}
