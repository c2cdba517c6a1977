// Package generate turns a subject's visual persona into image-generation
// prompts and runs them through an image provider.
package generate

import (
	"context"
	"fmt"
	"strings"

	"personalens/internal/logging"
	"personalens/internal/profile"
	"personalens/internal/store"
)

// ImageProvider produces one image for a prompt, anchored to a reference
// photo of the subject. One call is one attempt; the trigger never retries.
type ImageProvider interface {
	Generate(ctx context.Context, prompt, baseImagePath string) (string, error)
}

// scenarios rotate through the prompt set so the same subject and count
// always produce the same prompts in the same order.
var scenarios = []string{
	"working late at a cluttered desk, lit by a single monitor",
	"on stage at a product launch, mid-gesture",
	"walking through a city street on an overcast day",
	"in a candid conversation over coffee",
	"in a studio portrait against a plain background",
	"outdoors, caught between activities, slightly off-guard",
}

// Trigger assembles prompts and drives the image provider.
type Trigger struct {
	store    *store.ContentStore
	provider ImageProvider
	style    string
}

// NewTrigger wires the generation trigger. style is an optional rendering
// directive appended to every prompt.
func NewTrigger(st *store.ContentStore, provider ImageProvider, style string) *Trigger {
	return &Trigger{store: st, provider: provider, style: style}
}

// GeneratedImage is one produced image with the prompt that made it.
type GeneratedImage struct {
	Prompt string `json:"prompt"`
	URL    string `json:"url"`
}

// Result is the outcome of one generation run.
type Result struct {
	Subject       string           `json:"subject"`
	PersonaPrompt string           `json:"persona_prompt"`
	Images        []GeneratedImage `json:"images"`
	Failed        []string         `json:"failed_prompts,omitempty"`
}

// Run generates n images for the subject. Preconditions: the subject has
// been categorized, has a visual persona summary, and has a base reference
// image. Individual prompt failures are collected, not retried; a run where
// every prompt fails is an error.
func (t *Trigger) Run(ctx context.Context, name string, n int) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryGenerate, "Run")
	defer timer.Stop()

	sub, err := t.store.GetSubject(name)
	if err != nil {
		return nil, err
	}
	if !sub.Stage.AtLeast(profile.StageCategorized) {
		return nil, &profile.PreconditionError{Subject: sub.Key, Need: fmt.Sprintf("stage %s, currently %s", profile.StageCategorized, sub.Stage)}
	}
	visual, err := t.store.VisualSummary(sub.Key)
	if err != nil {
		return nil, err
	}
	if visual == "" {
		return nil, &profile.PreconditionError{Subject: sub.Key, Need: "visual persona summary"}
	}
	if sub.BaseImage == "" {
		return nil, &profile.PreconditionError{Subject: sub.Key, Need: "base reference image"}
	}

	if n <= 0 {
		n = 1
	}
	if n > len(scenarios) {
		n = len(scenarios)
	}
	prompts := BuildPrompts(sub.DisplayName, visual, t.style, n)

	result := &Result{
		Subject:       sub.DisplayName,
		PersonaPrompt: BuildPersonaPrompt(sub.DisplayName, visual),
	}

	var lastErr error
	for _, prompt := range prompts {
		url, err := t.provider.Generate(ctx, prompt, sub.BaseImage)
		if err != nil {
			logging.Generate("Prompt failed for %q: %v", sub.Key, err)
			result.Failed = append(result.Failed, prompt)
			lastErr = err
			continue
		}
		result.Images = append(result.Images, GeneratedImage{Prompt: prompt, URL: url})
	}

	if len(result.Images) == 0 {
		// Keep the provider's error in the chain so callers can still
		// classify the outage.
		return nil, fmt.Errorf("all %d generation prompts failed for %q: %w", len(prompts), sub.Key, lastErr)
	}
	logging.Generate("Generated %d/%d images for %q", len(result.Images), len(prompts), sub.Key)
	return result, nil
}

// BuildPrompts produces n distinct prompts from the subject's visual
// persona. The output is deterministic for a given input.
func BuildPrompts(displayName, visual, style string, n int) []string {
	prompts := make([]string, 0, n)
	for i := 0; i < n && i < len(scenarios); i++ {
		var b strings.Builder
		fmt.Fprintf(&b, "A photorealistic image of %s, %s.", displayName, scenarios[i])
		fmt.Fprintf(&b, " Their look and presence: %s", strings.TrimSpace(visual))
		if style != "" {
			fmt.Fprintf(&b, " Style: %s.", style)
		}
		prompts = append(prompts, b.String())
	}
	return prompts
}

// BuildPersonaPrompt produces the reusable text-persona prompt that captures
// how the subject presents themselves.
func BuildPersonaPrompt(displayName, visual string) string {
	return fmt.Sprintf(
		"Portray %s consistently across images. Visual identity: %s Keep facial likeness anchored to the reference photo.",
		displayName, strings.TrimSpace(visual))
}
