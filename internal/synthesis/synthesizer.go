package synthesis

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/llm"
	"github.com/plantsage/backend/internal/metrics"
	"github.com/plantsage/backend/internal/retrieval"
	"github.com/plantsage/backend/internal/vector"
	"github.com/plantsage/backend/pkg/logger"
)

// Input is one synthesis request. Evidence is used in the order given.
type Input struct {
	Mode     Mode
	Question string
	Evidence []vector.Match
	Scope    *retrieval.Scope
	History  string
}

type Synthesizer struct {
	model  llm.Completer
	logger *zap.Logger
}

func New(model llm.Completer) *Synthesizer {
	return &Synthesizer{model: model, logger: logger.Named("synthesis")}
}

// Synthesize asks the model for a structured answer and enforces the mode
// rules on the result. Malformed model output yields FallbackAnswer with a
// nil error; model transport errors are returned.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*Answer, error) {
	tmpl, err := TemplateFor(in.Mode)
	if err != nil {
		return nil, err
	}

	if in.Mode == ModeStrict && len(in.Evidence) == 0 {
		return insufficientAnswer(), nil
	}

	req, err := BuildPrompt(in.Mode, PromptInput{
		Question: in.Question,
		Evidence: in.Evidence,
		Scope:    in.Scope,
		History:  in.History,
	})
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := s.model.Complete(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("answer synthesis: %w", err)
	}

	answer, err := Parse(resp.Content)
	if err != nil {
		if !errors.Is(err, ErrMalformedOutput) {
			return nil, err
		}
		metrics.MalformedModelOutput.WithLabelValues(in.Mode.String()).Inc()
		s.logger.Warn("Model returned malformed answer, using fallback",
			zap.String("grounding_mode", in.Mode.String()),
			zap.Error(err),
			zap.Int("output_len", len(resp.Content)),
		)
		return FallbackAnswer(), nil
	}

	apply(tmpl, answer, in.Evidence)
	return answer, nil
}

func apply(t Template, a *Answer, evidence []vector.Match) {
	if t.ForceEmptyInternal {
		a.InternalSource = ""
	}
	if t.ForceEmptyExternal {
		a.ExternalSource = ""
	}
	if t.ForceZeroGrounding {
		a.GroundingPercent = "0"
	}
	a.UsedExternal = Flag(t.UsedExternal)

	if t.Mode == ModeStrict && a.Text == InsufficientInformation {
		a.InternalSource = ""
		a.GroundingPercent = "0"
		a.CitedChunkIDs = []string{}
		return
	}
	a.CitedChunkIDs = citedIDs(a.CitedChunkIDs, evidence)
}

// citedIDs keeps the model's citations that refer to real evidence. When the
// model cites nothing at all, every evidence chunk counts as cited.
func citedIDs(claimed []string, evidence []vector.Match) []string {
	if claimed == nil {
		ids := make([]string, 0, len(evidence))
		for _, m := range evidence {
			ids = append(ids, m.Chunk.ID)
		}
		return ids
	}
	known := make(map[string]struct{}, len(evidence))
	for _, m := range evidence {
		known[m.Chunk.ID] = struct{}{}
	}
	ids := make([]string, 0, len(claimed))
	seen := make(map[string]struct{}, len(claimed))
	for _, id := range claimed {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
