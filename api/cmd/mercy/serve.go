package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ijohanne/mercy/api/pkg/config"
	"github.com/ijohanne/mercy/api/pkg/detector"
	"github.com/ijohanne/mercy/api/pkg/driver"
	"github.com/ijohanne/mercy/api/pkg/driver/rodgame"
	"github.com/ijohanne/mercy/api/pkg/exchange"
	"github.com/ijohanne/mercy/api/pkg/scanner"
	"github.com/ijohanne/mercy/api/pkg/server"
)

var serveLogLevel string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scanner and its HTTP admin surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cmd
}

func setupLogging() {
	level, err := zerolog.ParseLevel(serveLogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func runServe() error {
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// §6: the reference template asset is required at startup; a missing
	// file is a fatal startup error, not a lazily-discovered one.
	refPath := cfg.ReferenceAssetPath()
	tpl, err := loadReferenceTemplate(refPath)
	if err != nil {
		return fmt.Errorf("load reference asset %s: %w", refPath, err)
	}
	det := detector.New(tpl, detector.DefaultThreshold)

	store := exchange.NewStore()
	logFile, err := exchange.OpenLog(cfg.ExchangeLog)
	if err != nil {
		return fmt.Errorf("open exchange log: %w", err)
	}
	defer logFile.Close()

	newDriver := func(ctx context.Context) (driver.GameDriver, error) {
		return rodgame.New(ctx, cfg.Driver)
	}

	sc := scanner.New(cfg, newDriver, det, store, logFile, driver.SystemClock{})
	srv := server.New(sc, cfg.AuthToken, cfg.ListenAddr)
	srv.Start()

	log.Info().
		Strs("kingdoms", kingdomStrings(cfg.Kingdoms)).
		Str("scan_pattern", cfg.ScanPattern).
		Str("listen_addr", cfg.ListenAddr).
		Msg("mercy serve started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down mercy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop first so a running scan winds down (current position finishes,
	// log flushes) before the driver is released; Logout is refused while
	// Scanning, so without the Stop the browser session would not be shut
	// down.
	if err := sc.Stop(); err != nil {
		log.Warn().Err(err).Msg("scanner stop failed during shutdown")
	}
	if err := sc.Logout(); err != nil {
		log.Warn().Err(err).Msg("scanner logout failed during shutdown")
	}
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down http server")
	}
	return nil
}

func loadReferenceTemplate(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode PNG: %w", err)
	}
	return img, nil
}

func kingdomStrings(kingdoms []uint32) []string {
	out := make([]string, len(kingdoms))
	for i, k := range kingdoms {
		out[i] = fmt.Sprintf("%d", k)
	}
	return out
}
