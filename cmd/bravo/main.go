// Command bravo tracks retail specials.
//
// Usage:
//
//	bravo [flags] specials     # collect specials, reconcile, record history
//	bravo [flags] catalogue    # refresh the regular-price catalogue baseline
//	bravo [flags] intel        # recompute intelligence records
//	bravo [flags] serve        # read-only HTTP API over the database
//
// Runs exit non-zero when any store failed unrecoverably.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/bravo/observability"
	"github.com/hazyhaar/bravo/specials"
	"github.com/hazyhaar/bravo/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("BRAVO_CONFIG"), "path to bravo.yaml")
	stores := flag.String("stores", "", "comma-separated stores to restrict the run to")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	logFormat := flag.String("log-format", "json", "log format: json, text")
	printReport := flag.Bool("report", false, "print the run report as JSON on stdout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	mode := flag.Arg(0)

	cfg, err := specials.LoadConfig(*configPath)
	if err != nil {
		slog.Error("bravo: config", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := observability.NewLogger(observability.Options{
		Level:  cfg.Log.Level,
		Format: *logFormat,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, logger, cfg, mode, splitStores(*stores), *printReport)
	stop()
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bravo [flags] specials|catalogue|intel|serve")
	flag.PrintDefaults()
}

func run(ctx context.Context, logger *slog.Logger, cfg *specials.Config, mode string, only []string, printReport bool) int {
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		logger.Error("bravo: telemetry", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("bravo: telemetry shutdown", "error", err)
		}
	}()

	svc, err := specials.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("bravo: open", "error", err)
		return 1
	}
	defer svc.Close()

	if mode == "serve" {
		if err := serve(ctx, logger, cfg.HTTP.Addr, svc.NewAPI()); err != nil {
			logger.Error("bravo: serve", "error", err)
			return 1
		}
		return 0
	}

	var rep *specials.Report
	switch mode {
	case specials.ModeSpecials:
		rep, err = svc.CollectSpecials(ctx, only)
	case specials.ModeCatalogue:
		rep, err = svc.CollectCatalogue(ctx, only)
	case specials.ModeIntel:
		rep, err = svc.RecomputeIntel(ctx, only)
	default:
		usage()
		return 2
	}
	if err != nil {
		logger.Error("bravo: run", "mode", mode, "error", err)
		return 1
	}

	if printReport {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			logger.Warn("bravo: print report", "error", err)
		}
	}
	if rep.Failed() {
		return 1
	}
	return 0
}

func serve(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("bravo: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("bravo: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func splitStores(s string) []string {
	var out []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
