package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tr1v3r/pkg/log"
	"github.com/urfave/cli/v3"

	"github.com/tr1v3r/vcast/internal/config"
	"github.com/tr1v3r/vcast/internal/engine"
	"github.com/tr1v3r/vcast/internal/engine/mpv"
	"github.com/tr1v3r/vcast/internal/httpserver"
	"github.com/tr1v3r/vcast/internal/monitoring"
	"github.com/tr1v3r/vcast/internal/netutil"
	"github.com/tr1v3r/vcast/internal/ssdp"
	"github.com/tr1v3r/vcast/internal/state"
	"github.com/tr1v3r/vcast/internal/uuid"
)

const (
	serverName = "vcast-DMR/1.0 UPnP/1.0"

	housekeepingInterval = time.Minute
)

func main() {
	cmd := &cli.Command{
		Name:  "vcast",
		Usage: "DLNA media renderer playing through mpv",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "extra TOML config file"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "HTTP port for UPnP description and control"},
			&cli.StringFlag{Name: "mpv", Usage: "mpv binary"},
		},
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Error("vcast: %v", err)
	}
	log.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if cmd.IsSet("port") {
		cfg.HTTPPort = int(cmd.Int("port"))
	}
	if cmd.IsSet("mpv") {
		cfg.MPV.Binary = cmd.String("mpv")
	}

	// device UUID
	deviceUUID, err := uuid.LoadOrCreate(cfg.UUIDPath, config.DefaultUUID)
	if err != nil {
		log.Info("UUID load error, using default: %v", err)
	}

	// interface IP
	ip, err := netutil.FirstUsableIPv4()
	if err != nil {
		return fmt.Errorf("no IPv4: %w", err)
	}
	baseURL := netutil.BaseURL(ip, cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// renderer state
	st := state.New(ctx, cfg, mpv.Factory(mpv.Options{
		Binary:     cfg.MPV.Binary,
		Fullscreen: cfg.MPV.Fullscreen,
		ExtraArgs:  cfg.MPV.ExtraArgs,
		AssetDir:   cfg.MPV.AssetDir,
	}))
	defer st.Stop()
	if cfg.MPV.WindowID != 0 {
		st.SetRenderTarget(engine.WindowID(cfg.MPV.WindowID))
	}

	// HTTP
	mux := httpserver.NewMux()
	httpserver.RegisterHTTP(mux, baseURL, deviceUUID, st, cfg)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpserver.LogMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// SSDP
	var wg sync.WaitGroup
	wg.Go(func() { ssdp.Announce(ctx, baseURL, deviceUUID, serverName) })
	wg.Go(func() { ssdp.SearchResponder(ctx, baseURL, deviceUUID, serverName) })
	defer wg.Wait()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP listening on %s, device %s at %s", srv.Addr, deviceUUID, baseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			monitoring.GetMetrics().LogMetrics()
			log.Info("bye")
			return nil
		case err := <-serveErr:
			stop()
			return fmt.Errorf("http server: %w", err)
		case <-ticker.C:
			st.CleanupExpired()
			monitoring.GetMetrics().LogMetrics()
		}
	}
}
