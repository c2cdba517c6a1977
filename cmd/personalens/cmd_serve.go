package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"personalens/internal/discovery"
	"personalens/internal/generate"
	"personalens/internal/server"
)

var serveAddr string

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serves the pipeline over HTTP:

  POST /api/search-profiles       {"name": ...}
  POST /api/scrape-profiles       {"name": ...}
  POST /api/generate-perspective  {"name": ..., "question": ...}
  POST /api/generate              {"name": ..., "count": ...}
  GET  /api/status?name=...

Providers without configured credentials are served as 503 on their
routes instead of failing startup.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	client, err := app.llmClient()
	if err != nil {
		return err
	}
	engine, err := app.embedEngine()
	if err != nil {
		return err
	}

	var disc discovery.Discoverer
	if d, err := app.discoverer(); err != nil {
		logger.Warn("Profile discovery disabled", zap.Error(err))
	} else {
		disc = d
	}

	var trig *generate.Trigger
	if t, err := app.trigger(""); err != nil {
		logger.Warn("Image generation disabled", zap.Error(err))
	} else {
		trig = t
	}

	pers, err := app.perspective()
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Tracker:     app.tracker,
		Discoverer:  disc,
		Scrapers:    app.scrapers(),
		Client:      client,
		Embed:       engine,
		Perspective: pers,
		Trigger:     trig,
		ScrapeOpts:  app.scrapeOpts(),
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	cfg := app.cfg.Server
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	logger.Info("Serving", zap.String("addr", cfg.Addr))
	return srv.ListenAndServe(ctx, cfg)
}
