package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	genName  string
	genCount int
	genStyle string
)

// generateCmd produces persona-consistent images for a subject
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate persona-consistent images of a subject",
	Long: `Builds prompts from the subject's visual persona and sends them to
the image provider with the base reference image attached.

Requires a categorized subject with a visual persona and a base image
(see 'personalens set-image').

Example:
  personalens generate --name "Carl Pei" --count 4`,
	RunE: runGenerate,
}

// setImageCmd records the base reference image for a subject
var setImageCmd = &cobra.Command{
	Use:   "set-image [name] [path]",
	Short: "Set the base reference image for a subject",
	Args:  cobra.ExactArgs(2),
	RunE:  runSetImage,
}

func init() {
	generateCmd.Flags().StringVar(&genName, "name", "", "Subject name (required)")
	generateCmd.Flags().IntVar(&genCount, "count", 3, "Number of images to generate")
	generateCmd.Flags().StringVar(&genStyle, "style", "", "Extra rendering directive appended to every prompt")
	generateCmd.MarkFlagRequired("name")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	trig, err := app.trigger(genStyle)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	res, err := trig.Run(ctx, genName, genCount)
	if err != nil {
		return err
	}

	fmt.Printf("Generated %d image(s) for %s\n", len(res.Images), res.Subject)
	for i, img := range res.Images {
		fmt.Printf("  %d. %s\n", i+1, img.URL)
	}
	if len(res.Failed) > 0 {
		fmt.Printf("Failed prompts: %d\n", len(res.Failed))
	}
	return nil
}

func runSetImage(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.store.SetBaseImage(name, path); err != nil {
		return err
	}
	fmt.Printf("Base image for %s set to %s\n", name, path)
	return nil
}
