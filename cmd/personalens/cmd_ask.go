package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"personalens/internal/perspective"
)

var (
	askName        string
	askPersona     bool
	askTopK        int
	askAllSubjects bool
	askShowSources bool
)

// askCmd answers a question from the subject's perspective
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question from a subject's perspective",
	Long: `Retrieves the most relevant indexed content for the question and
asks the model to answer from the subject's perspective, grounded in
that material. The subject must be READY.

Example:
  personalens ask --name "Carl Pei" "What do you think about carrier subsidies?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askName, "name", "", "Subject name (required)")
	askCmd.Flags().BoolVar(&askPersona, "persona", false, "Answer in the first person, as the subject")
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "How many retrieved units ground the answer")
	askCmd.Flags().BoolVar(&askAllSubjects, "all-subjects", false, "Retrieve across every indexed subject")
	askCmd.Flags().BoolVar(&askShowSources, "sources", false, "Print the retrieved sources")
	askCmd.MarkFlagRequired("name")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := joinArgs(args)

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	engine, err := app.perspective()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	ans, err := engine.Answer(ctx, askName, question, perspective.Options{
		TopK:        askTopK,
		Persona:     askPersona,
		AllSubjects: askAllSubjects,
	})
	if err != nil {
		return err
	}

	fmt.Println(ans.Text)
	if askShowSources {
		fmt.Println("\nSources:")
		for _, src := range ans.Sources {
			fmt.Printf("  %d. [%.3f] %s/%s: %s\n", src.Rank, src.Score, src.Platform, src.Category, src.Excerpt)
		}
	}
	return nil
}
