// Package planner asks the reasoning service for a patch and parses its
// answer with a strict grammar. Anything it cannot parse becomes
// NO_SOLUTION.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbfix/internal/config"
	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/fyrsmithlabs/nbfix/internal/llm"
	"github.com/fyrsmithlabs/nbfix/internal/retrieval"
	"github.com/fyrsmithlabs/nbfix/internal/secrets"
)

const tracerName = "github.com/fyrsmithlabs/nbfix/internal/planner"

// Service plans patches.
type Service interface {
	// PlanDirect plans using only the model's built-in knowledge.
	PlanDirect(ctx context.Context, details extraction.ErrorDetails) Proposal

	// PlanWithContext plans grounded in retrieved snippets.
	PlanWithContext(ctx context.Context, details extraction.ErrorDetails, snippets []retrieval.Snippet) Proposal
}

// Planner implements Service over an llm.Client.
type Planner struct {
	client   llm.Client
	scrubber secrets.Scrubber
	prompts  PromptBuilder
	logger   *zap.Logger
}

// New creates a Planner. A nil scrubber sends prompts unmodified.
func New(client llm.Client, scrubber secrets.Scrubber, cfg config.PlannerConfig, logger *zap.Logger) (*Planner, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if scrubber == nil {
		scrubber = secrets.NoopScrubber{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		client:   client,
		scrubber: scrubber,
		prompts: PromptBuilder{
			Domain:          cfg.Domain,
			MaxSnippets:     cfg.MaxSnippets,
			MaxContextChars: cfg.MaxContextChars,
		},
		logger: logger,
	}, nil
}

// PlanDirect implements Service.
func (p *Planner) PlanDirect(ctx context.Context, details extraction.ErrorDetails) Proposal {
	return p.plan(ctx, "direct", p.prompts.Direct(details))
}

// PlanWithContext implements Service.
func (p *Planner) PlanWithContext(ctx context.Context, details extraction.ErrorDetails, snippets []retrieval.Snippet) Proposal {
	return p.plan(ctx, "context", p.prompts.WithContext(details, snippets))
}

func (p *Planner) plan(ctx context.Context, tier, prompt string) Proposal {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Planner.Plan")
	defer span.End()
	span.SetAttributes(attribute.String("planner.tier", tier))

	scrubbed := p.scrubber.Scrub(prompt)
	if scrubbed.HasFindings() {
		p.logger.Warn("redacted secrets from prompt",
			zap.String("tier", tier),
			zap.Int("findings", scrubbed.TotalFindings))
	}

	resp, err := p.client.Complete(ctx, scrubbed.Scrubbed)
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("reasoning service failed", zap.String("tier", tier), zap.Error(err))
		return noSolution(fmt.Sprintf("reasoning service error: %v", err))
	}

	proposal, err := ParseResponse(resp)
	if err != nil {
		p.logger.Warn("rejecting planner response",
			zap.String("tier", tier),
			zap.Error(err))
		return noSolution(err.Error())
	}

	if proposal.Ready() && strings.Contains(proposal.AfterCode, p.scrubber.Redaction()) {
		p.logger.Warn("rejecting patch containing redacted secret", zap.String("tier", tier))
		return noSolution("proposed code contains a redacted secret")
	}

	span.SetAttributes(
		attribute.String("planner.status", string(proposal.Status)),
		attribute.Float64("planner.confidence", proposal.Confidence),
	)
	p.logger.Debug("planner response",
		zap.String("tier", tier),
		zap.String("status", string(proposal.Status)),
		zap.Float64("confidence", proposal.Confidence))
	return proposal
}

var _ Service = (*Planner)(nil)
