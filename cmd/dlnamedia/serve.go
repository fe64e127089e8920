package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"dlnamedia/internal/api"
	"dlnamedia/internal/config"
	"dlnamedia/internal/connmgr"
	"dlnamedia/internal/contentdir"
	"dlnamedia/internal/library"
	"dlnamedia/internal/media"
	"dlnamedia/internal/metrics"
	"dlnamedia/internal/server"
	"dlnamedia/internal/ssdp"
	"dlnamedia/internal/storage"
	"dlnamedia/internal/streaming"
	"dlnamedia/internal/transcode"
	"dlnamedia/internal/upnp"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the media server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func deviceInfo(cfg config.DeviceConfig) upnp.DeviceInfo {
	udn := upnp.NormalizeUDN(cfg.UDN)
	if udn == "" {
		host, _ := os.Hostname()
		udn = upnp.DeriveUDN(host, cfg.FriendlyName)
	}
	return upnp.DeviceInfo{
		UDN:              udn,
		FriendlyName:     cfg.FriendlyName,
		Manufacturer:     cfg.Manufacturer,
		ModelName:        cfg.ModelName,
		ModelNumber:      cfg.ModelNumber,
		ModelDescription: "UPnP/DLNA audio media server",
	}
}

// openLibrary wires the probe cache, the prober and the scanner. The
// returned store must be closed by the caller.
func openLibrary(cfg *config.Config, logger zerolog.Logger) (*library.Library, *storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open probe cache: %w", err)
	}
	prober := media.NewFFprobe(cfg.Transcode.FFprobe, cfg.Library.ProbeTimeout, logger)
	scanner := library.NewScanner(prober, store, cfg.Library.ProbeConcurrency, logger)
	return library.New(scanner, cfg.Library.Roots, cfg.Library.Name, logger), store, nil
}

func runServe(ctx context.Context, opts *options) error {
	cfg, logger, closer, err := load(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info().
		Str("version", api.Version).
		Strs("roots", cfg.Library.Roots).
		Msg("starting dlnamedia")

	tools := media.DetectTools(cfg.Transcode.FFmpeg, cfg.Transcode.FFprobe)
	if !tools.FFprobe.Found {
		logger.Warn().Str("ffprobe", cfg.Transcode.FFprobe).Msg("ffprobe not found - files cannot be probed")
	}
	if !tools.FFmpeg.Found {
		logger.Warn().Str("ffmpeg", cfg.Transcode.FFmpeg).Msg("ffmpeg not found - streaming will fail")
	}

	lib, store, err := openLibrary(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	profiles, err := transcode.NewSelector(cfg.Transcode.Fallback, cfg.Transcode.Bitrate)
	if err != nil {
		return err
	}
	pipelines := transcode.NewManager(transcode.Config{
		FFmpeg:      cfg.Transcode.FFmpeg,
		ReadTimeout: cfg.Transcode.ReadTimeout,
		KillGrace:   cfg.Transcode.KillGrace,
		StderrLimit: int(cfg.Transcode.StderrLimit),
	}, logger)

	frames := media.NewFrameExtractor(cfg.Transcode.FFmpeg, cfg.Art.Dir, logger)
	art, err := media.NewArtService(frames, cfg.Art.CacheCapacity, int64(cfg.Art.CacheMaxSize), logger)
	if err != nil {
		return fmt.Errorf("art cache: %w", err)
	}

	device := deviceInfo(cfg.Device)
	upnpHandler, err := upnp.NewHandler(device, logger,
		contentdir.New(lib, profiles.Format, logger),
		connmgr.New(profiles.ProtocolInfos()),
	)
	if err != nil {
		return fmt.Errorf("device description: %w", err)
	}

	m := metrics.New()
	upnpHandler.SetObserver(m)
	lib.OnRebuild(m.ObserveRebuild)

	sessions := streaming.NewRegistry()
	stream := streaming.NewHandler(lib, profiles, pipelines, sessions, logger)
	stream.SetObserver(m)

	srv := server.New(cfg, logger, server.Handlers{
		UPnP:    upnpHandler,
		Stream:  stream,
		Art:     streaming.NewArtHandler(lib, art, logger),
		API:     api.NewHandler(lib, sessions, device, logger),
		Metrics: m,
		Gauges: func() {
			m.SetCatalog(lib.Catalog().Len(), lib.UpdateID())
			m.SetArtCache(art.CacheStats())
		},
	})

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	announcers, err := newAnnouncers(cfg, device, port, m, logger)
	if err != nil {
		ln.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("udn", device.UDN).
		Str("friendly_name", device.FriendlyName).
		Msg("device ready")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ln)
	})

	g.Go(func() error {
		if err := lib.Rebuild(gctx); err != nil && gctx.Err() == nil {
			logger.Error().Err(err).Msg("initial scan failed")
		}
		return nil
	})

	if cfg.Library.Watch {
		g.Go(func() error {
			if err := lib.Watch(gctx, cfg.Library.Debounce); err != nil {
				logger.Warn().Err(err).Msg("library watch stopped")
			}
			return nil
		})
	}

	// Announcers outlive gctx so byebye goes out before streams are cut.
	announceCtx, stopAnnounce := context.WithCancel(context.Background())
	defer stopAnnounce()
	var announce errgroup.Group
	for _, a := range announcers {
		announce.Go(func() error {
			if err := a.Run(announceCtx); err != nil {
				logger.Error().Err(err).Str("location", a.Location()).Msg("ssdp stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("received shutdown signal")

		stopAnnounce()
		announce.Wait()
		pipelines.Close()
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newAnnouncers(cfg *config.Config, device upnp.DeviceInfo, port string, obs ssdp.Observer, logger zerolog.Logger) ([]*ssdp.Server, error) {
	if !cfg.SSDP.Enabled {
		logger.Info().Msg("ssdp disabled")
		return nil, nil
	}
	ifaces, err := ssdp.Interfaces(cfg.SSDP.Interfaces)
	if err != nil {
		return nil, err
	}

	scfg := ssdp.Config{
		UDN:            device.UDN,
		DeviceType:     upnp.DeviceType,
		ServiceTypes:   []string{contentdir.ServiceType, connmgr.ServiceType},
		ServerString:   device.ServerString(),
		NotifyInterval: cfg.SSDP.NotifyInterval,
		MaxAge:         cfg.SSDP.MaxAge,
	}
	out := make([]*ssdp.Server, 0, len(ifaces))
	for _, ifc := range ifaces {
		location := "http://" + net.JoinHostPort(ifc.IP.String(), port) + "/description.xml"
		s := ssdp.New(scfg, ifc.Iface, location, logger)
		s.SetObserver(obs)
		out = append(out, s)
	}
	return out, nil
}
