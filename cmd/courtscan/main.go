package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"courtscan/internal/api"
	"courtscan/internal/app"
	"courtscan/internal/config"
	"courtscan/internal/jobs"
	"courtscan/internal/scheduler"
	"courtscan/internal/store"
	"courtscan/internal/stream"
	"courtscan/internal/worker"
)

func main() {
	envFile := config.EnvFileArg(os.Args[1:], ".env")
	if err := config.LoadEnvFile(envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.FromEnv()
	cfg.RegisterFlags(flag.CommandLine)
	flag.String("env", envFile, "dotenv file with COURTSCAN_* defaults")
	debug := flag.Bool("pprof", false, "serve /debug/pprof")
	flag.Parse()

	if err := app.SetupLogging(os.Stdout, cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	site, err := app.LoadSite(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load site profile")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	repo := store.NewSQLiteRepo(db)
	if n, err := repo.RecoverStale(context.Background()); err == nil {
		log.Info().Int("abandoned", n).Msg("marked scans left running as abandoned")
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(ctx, cfg.Workers)
	coord := jobs.NewCoordinator(app.NewChecker(cfg, site, repo), pool, jobs.Options{
		Courts:    site.Courts,
		CourtName: site.CourtName,
		CourtKey:  site.CourtKey,
		Store:     repo,
	})

	sched := scheduler.NewService(ctx, coord)
	if err := sched.AddSchedules(site.Schedules); err != nil {
		log.Fatal().Err(err).Msg("schedules")
	}
	if err := sched.AddReaper(coord, cfg.JobTTL, cfg.ReapEvery); err != nil {
		log.Fatal().Err(err).Msg("job reaper")
	}
	sched.Start()

	srv := newHTTPServer(ctx, cfg.Addr, api.NewServer(api.Deps{
		Jobs:        coord,
		Stream:      stream.NewPublisher(coord, cfg.KeepAlive),
		History:     repo,
		Active:      pool.Active,
		EnableDebug: *debug,
	}))
	go func() {
		log.Info().Str("addr", cfg.Addr).Bool("headless", cfg.Headless).Int("workers", cfg.Workers).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()
	// cancelling first ends open event streams and tears down in-flight browsers
	cancel()
	sched.Stop(ctxTimeout)
	_ = srv.Shutdown(ctxTimeout)

	done := make(chan struct{})
	go func() { pool.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctxTimeout.Done():
		log.Warn().Msg("scans still running at exit")
	}
}

// newHTTPServer derives every request context from base, so cancelling base
// ends long-lived event streams and lets Shutdown finish.
func newHTTPServer(base context.Context, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     h,
		BaseContext: func(net.Listener) context.Context { return base },
	}
}
