package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd shows where a subject is in the pipeline
var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show a subject's pipeline stage and content counts",
	Long:  "With no name, lists every tracked subject instead.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	name := joinArgs(args)

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if name == "" {
		subjects, err := app.store.ListSubjects()
		if err != nil {
			return err
		}
		if len(subjects) == 0 {
			fmt.Println("No subjects tracked yet.")
			return nil
		}
		for _, sub := range subjects {
			flag := ""
			if sub.Degraded {
				flag = " (degraded)"
			}
			fmt.Printf("%-30s %s%s\n", sub.DisplayName, sub.Stage, flag)
		}
		return nil
	}

	status, err := app.tracker.Status(name)
	if err != nil {
		return err
	}

	sub := status.Subject
	fmt.Printf("Subject:  %s\n", sub.DisplayName)
	fmt.Printf("Stage:    %s", sub.Stage)
	if sub.Degraded {
		fmt.Print(" (degraded)")
	}
	fmt.Println()
	if sub.BaseImage != "" {
		fmt.Printf("Image:    %s\n", sub.BaseImage)
	}
	fmt.Printf("Updated:  %s\n", sub.UpdatedAt.Format("2006-01-02 15:04:05"))

	if len(status.Profiles) > 0 {
		fmt.Println("\nProfiles:")
		for _, p := range status.Profiles {
			fmt.Printf("  %-10s %s\n", p.Platform, p.URL)
		}
	}

	if len(status.RawCounts) > 0 {
		fmt.Println("\nContent:")
		for platform, n := range status.RawCounts {
			fmt.Printf("  %-10s %d raw items\n", platform, n)
		}
		fmt.Printf("  %-10s %d derived units\n", "indexed", status.UnitCount)
	}

	if len(status.History) > 0 {
		fmt.Println("\nHistory:")
		for _, rec := range status.History {
			flag := ""
			if rec.Degraded() {
				flag = " (degraded)"
			}
			fmt.Printf("  %s %s%s\n", rec.RecordedAt.Format("2006-01-02 15:04:05"), rec.Stage, flag)
		}
	}
	return nil
}
