// Package gate decides whether the agent answers a mention.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	"presence-agent/internal/core/domain"
	"presence-agent/internal/core/ports"
	"presence-agent/internal/prompt"
)

type Gate struct {
	brain     ports.Brain
	character domain.Character
	handle    string
	tier      ports.ModelTier
	logger    *slog.Logger
}

func New(brain ports.Brain, character domain.Character, handle string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{brain: brain, character: character, handle: handle, tier: ports.TierMedium, logger: logger}
}

// Context builds the classification prompt for candidate.
func (g *Gate) Context(thread []domain.Post, candidate domain.Post, recent []domain.LocalMemory) (string, error) {
	st := prompt.NewState(g.character, g.handle)
	st.CurrentPost = prompt.FormatPost(candidate)
	st.Conversation = prompt.FormatThread(thread)
	st.RecentPosts = prompt.FormatRecent(g.character.Name, recent)
	return prompt.Render(prompt.ShouldRespond, st)
}

// Decide classifies candidate. Unknown labels are treated as IGNORE; only
// RESPOND lets the caller continue to generation.
func (g *Gate) Decide(ctx context.Context, thread []domain.Post, candidate domain.Post, recent []domain.LocalMemory) (domain.Decision, error) {
	text, err := g.Context(thread, candidate, recent)
	if err != nil {
		return domain.DecisionIgnore, fmt.Errorf("render gate context: %w", err)
	}
	label, err := g.brain.GenerateText(ctx, text, g.tier, "")
	if err != nil {
		return domain.DecisionIgnore, fmt.Errorf("classify %s: %w", candidate.ID, err)
	}
	d := domain.ParseDecision(label)
	g.logger.Info("gate_decision", "post_id", candidate.ID, "decision", string(d), "label", label)
	return d, nil
}
