package main

import (
	"fmt"

	"go.uber.org/zap"

	"personalens/internal/config"
	"personalens/internal/discovery"
	"personalens/internal/embedding"
	"personalens/internal/generate"
	"personalens/internal/llm"
	"personalens/internal/perspective"
	"personalens/internal/pipeline"
	"personalens/internal/scrape"
	"personalens/internal/store"
)

// app holds the wired-up collaborators a command needs. Providers that
// require credentials are built on demand so commands only fail for keys
// they actually use.
type app struct {
	cfg     *config.Config
	store   *store.ContentStore
	tracker *pipeline.Tracker
	browser *scrape.BrowserSession
}

// openApp loads config, applies flag overrides and opens the store.
func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.DatabasePath = dbPath
	}

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &app{
		cfg:     cfg,
		store:   st,
		tracker: pipeline.NewTracker(st),
		browser: scrape.NewBrowserSession(cfg.Scrape.Headless),
	}, nil
}

// Close releases the store and any running browser.
func (a *app) Close() {
	if err := a.browser.Shutdown(); err != nil {
		logger.Debug("Browser shutdown", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("Store close failed", zap.Error(err))
	}
}

func (a *app) llmClient() (llm.Client, error) {
	return llm.NewClient(a.cfg.LLM)
}

func (a *app) embedEngine() (embedding.Engine, error) {
	return embedding.NewEngine(a.cfg.Embedding)
}

func (a *app) discoverer() (discovery.Discoverer, error) {
	return discovery.NewSerpClient(a.cfg.Discovery)
}

// scrapers assembles the platform scrapers. Twitter is skipped with a
// warning when no bearer token is configured; the article and browser
// scrapers need no credentials.
func (a *app) scrapers() []scrape.Scraper {
	var out []scrape.Scraper

	if tw, err := scrape.NewTwitterScraper(a.cfg.Scrape); err != nil {
		logger.Warn("Twitter scraping disabled", zap.Error(err))
	} else {
		out = append(out, tw)
	}

	out = append(out,
		scrape.NewArticleScraper(a.tracker.ArticleURLs),
		scrape.NewLinkedInScraper(a.browser, a.cfg.Scrape),
		scrape.NewInstagramScraper(a.browser, a.cfg.Scrape, a.cfg.Storage.ImageDir),
	)
	return out
}

func (a *app) scrapeOpts() pipeline.ScrapeOptions {
	return pipeline.ScrapeOptions{PerPlatformTimeout: a.cfg.ScrapeTimeout()}
}

func (a *app) perspective() (*perspective.Engine, error) {
	client, err := a.llmClient()
	if err != nil {
		return nil, err
	}
	engine, err := a.embedEngine()
	if err != nil {
		return nil, err
	}
	return perspective.NewEngine(a.store, client, engine), nil
}

func (a *app) trigger(style string) (*generate.Trigger, error) {
	provider, err := generate.NewReplicateClient(a.cfg.Generation)
	if err != nil {
		return nil, err
	}
	return generate.NewTrigger(a.store, provider, style), nil
}
