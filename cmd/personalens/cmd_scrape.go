package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scrapeOnly bool

// scrapeCmd runs scrape, categorize and finalize for a discovered subject
var scrapeCmd = &cobra.Command{
	Use:   "scrape [name]",
	Short: "Scrape a discovered subject and index the content",
	Long: `Scrapes every discovered platform concurrently, then categorizes
and embeds the collected content, taking the subject to READY.

A platform that fails degrades the run instead of aborting it; the
degraded flag is visible in 'personalens status'.

Example:
  personalens scrape "Carl Pei"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeOnly, "scrape-only", false, "Stop after scraping, skip categorization")
}

func runScrape(cmd *cobra.Command, args []string) error {
	name := joinArgs(args)

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	logger.Info("Scraping", zap.String("name", name))
	if err := app.tracker.Scrape(ctx, app.scrapers(), name, app.scrapeOpts()); err != nil {
		return err
	}

	if !scrapeOnly {
		client, err := app.llmClient()
		if err != nil {
			return err
		}
		engine, err := app.embedEngine()
		if err != nil {
			return err
		}

		logger.Info("Categorizing", zap.String("name", name))
		if err := app.tracker.Categorize(ctx, client, engine, name); err != nil {
			return err
		}
		if err := app.tracker.Finalize(ctx, name); err != nil {
			return err
		}
	}

	status, err := app.tracker.Status(name)
	if err != nil {
		return err
	}
	fmt.Printf("Subject: %s (stage %s", status.Subject.DisplayName, status.Subject.Stage)
	if status.Subject.Degraded {
		fmt.Print(", degraded")
	}
	fmt.Println(")")
	for platform, n := range status.RawCounts {
		fmt.Printf("  %-10s %d items\n", platform, n)
	}
	fmt.Printf("  indexed    %d units\n", status.UnitCount)
	return nil
}
