// Package perspective answers questions from a subject's point of view,
// grounded in their indexed content.
package perspective

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"personalens/internal/embedding"
	"personalens/internal/llm"
	"personalens/internal/logging"
	"personalens/internal/profile"
	"personalens/internal/store"
)

const defaultTopK = 8

// Engine runs retrieval-grounded question answering.
type Engine struct {
	store  *store.ContentStore
	client llm.Client
	embed  embedding.Engine
}

// NewEngine wires the perspective engine.
func NewEngine(st *store.ContentStore, client llm.Client, embed embedding.Engine) *Engine {
	return &Engine{store: st, client: client, embed: embed}
}

// Options tune one answer.
type Options struct {
	// TopK caps how many units ground the answer. Zero means the default.
	TopK int
	// Persona makes the model answer in the subject's voice instead of
	// describing them in the third person.
	Persona bool
	// AllSubjects widens retrieval across every indexed subject.
	AllSubjects bool
}

// Source is one retrieval unit that grounded an answer.
type Source struct {
	Rank     int              `json:"rank"`
	Score    float64          `json:"relevance_score"`
	Platform profile.Platform `json:"platform"`
	Category profile.Category `json:"category"`
	Summary  string           `json:"summary,omitempty"`
	Excerpt  string           `json:"excerpt"`
}

// Answer is a grounded response with its sources.
type Answer struct {
	Subject  string   `json:"subject,omitempty"`
	Question string   `json:"query"`
	Text     string   `json:"perspective"`
	Sources  []Source `json:"sources"`
}

// Answer responds to a question about (or as) the subject. The subject must
// have reached READY; an empty retrieval result is ErrInsufficientContext.
// An empty name widens retrieval across every indexed subject.
func (e *Engine) Answer(ctx context.Context, name, question string, opts Options) (*Answer, error) {
	timer := logging.StartTimer(logging.CategoryPerspective, "Answer")
	defer timer.Stop()

	var sub *profile.Subject
	if name == "" {
		opts.AllSubjects = true
	} else {
		var err error
		sub, err = e.store.GetSubject(name)
		if err != nil {
			return nil, err
		}
		if !sub.Stage.AtLeast(profile.StageReady) {
			return nil, fmt.Errorf("%w: %q is at %s", profile.ErrNotReady, sub.Key, sub.Stage)
		}
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	// The query must live in the same embedding space as the index.
	queryVec, err := e.embed.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	var key, displayName string
	if sub != nil {
		key, displayName = sub.Key, sub.DisplayName
	}

	units, err := e.store.QuerySimilar(key, queryVec, topK, store.QueryOptions{
		AllSubjects: opts.AllSubjects,
		Engine:      e.embed.Name(),
	})
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: nothing indexed with engine %s",
			profile.ErrInsufficientContext, e.embed.Name())
	}

	logging.Perspective("Answering for %q with %d units (top score %.4f)",
		key, len(units), units[0].Score)

	systemPrompt := e.buildSystemPrompt(sub, opts.Persona)
	userPrompt := buildUserPrompt(displayName, question, units)

	text, err := e.client.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	answer := &Answer{
		Subject:  displayName,
		Question: question,
		Text:     strings.TrimSpace(text),
		Sources:  make([]Source, 0, len(units)),
	}
	for i, u := range units {
		answer.Sources = append(answer.Sources, Source{
			Rank:     i + 1,
			Score:    u.Score,
			Platform: u.Platform,
			Category: u.Category,
			Summary:  u.Summary,
			Excerpt:  excerpt(u.Text, 240),
		})
	}
	return answer, nil
}

// buildSystemPrompt frames the answer. Persona mode speaks as the subject
// and folds in their visual persona when one exists. Without a subject the
// model adopts whatever voice the retrieved content implies.
func (e *Engine) buildSystemPrompt(sub *profile.Subject, persona bool) string {
	if sub == nil {
		return `You answer strictly from the provided context, adopting the voice and
perspective the content implies. Never invent facts absent from the context.`
	}
	if !persona {
		return fmt.Sprintf(`You answer questions about %s using only the provided context.
If the context does not cover the question, say what is known and note the gap.
Never invent posts, quotes, or opinions that are not in the context.`, sub.DisplayName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are %s. Answer in the first person, in their voice and attitude,
using only the provided context for facts and opinions.
If the context does not cover the question, deflect the way they plausibly would, without inventing specifics.`, sub.DisplayName)

	if visual, err := e.store.VisualSummary(sub.Key); err == nil && visual != "" {
		fmt.Fprintf(&b, "\n\nTheir public visual persona: %s", visual)
	}
	return b.String()
}

func buildUserPrompt(displayName, question string, units []store.ScoredUnit) string {
	var b strings.Builder
	if displayName == "" {
		b.WriteString("Context, most relevant first:\n\n")
	} else {
		fmt.Fprintf(&b, "Context about %s, most relevant first:\n\n", displayName)
	}
	for i, u := range units {
		fmt.Fprintf(&b, "[%d] (%s, %s) %s\n", i+1, u.Platform, u.Category, u.Text)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	// Back off to a rune boundary so the cut never splits a character.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "…"
}
