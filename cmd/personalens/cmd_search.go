package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// searchCmd discovers platform profiles for a person
var searchCmd = &cobra.Command{
	Use:   "search [name]",
	Short: "Discover platform profiles and articles for a person",
	Long: `Searches the web for the person's Twitter, LinkedIn and Instagram
profiles plus recent articles, and records them as a DISCOVERED subject.

Example:
  personalens search "Carl Pei"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	name := joinArgs(args)

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	disc, err := app.discoverer()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	logger.Info("Discovering profiles", zap.String("name", name))
	sub, err := app.tracker.Discover(ctx, disc, name)
	if err != nil {
		return err
	}

	profiles, err := app.store.GetDiscoveredProfiles(sub.Key)
	if err != nil {
		return err
	}

	fmt.Printf("Subject: %s (stage %s)\n", sub.DisplayName, sub.Stage)
	for _, p := range profiles {
		if p.Handle != "" {
			fmt.Printf("  %-10s %s (@%s)\n", p.Platform, p.URL, p.Handle)
		} else {
			fmt.Printf("  %-10s %s\n", p.Platform, p.URL)
		}
	}
	return nil
}
