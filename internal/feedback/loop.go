package feedback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/metrics"
	"github.com/plantsage/backend/internal/vector"
	"github.com/plantsage/backend/pkg/logger"
)

var ErrInvalidJudgment = errors.New("feedback must be \"correct\" or \"incorrect\"")

// PartialUpdateError reports chunks whose demotion failed. The feedback
// record itself was persisted.
type PartialUpdateError struct {
	Failed map[string]error
}

func (e *PartialUpdateError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("failed to demote %d chunk(s): %s", len(ids), strings.Join(ids, ", "))
}

type Submission struct {
	Question     string
	Answer       string
	Feedback     Judgment
	Comment      string
	UsedChunkIDs []string
}

// Loop records feedback and demotes chunks cited by incorrect answers.
type Loop struct {
	log   Log
	index vector.Index
	now   func() time.Time
	// OnDemoted runs after at least one chunk was demoted.
	OnDemoted func(ctx context.Context, ids []string)
	logger    *zap.Logger
}

func NewLoop(log Log, index vector.Index) *Loop {
	return &Loop{
		log:    log,
		index:  index,
		now:    time.Now,
		logger: logger.Named("feedback"),
	}
}

// Submit persists the feedback and, for incorrect answers, marks every cited
// chunk bad. A *PartialUpdateError is returned together with the record when
// some demotions failed.
func (l *Loop) Submit(ctx context.Context, s Submission) (*Record, error) {
	if !s.Feedback.Valid() {
		return nil, ErrInvalidJudgment
	}

	ids := s.UsedChunkIDs
	if ids == nil {
		ids = []string{}
	}
	rec := Record{
		ID:           uuid.NewString(),
		Timestamp:    l.now().UTC().Format(time.RFC3339),
		Question:     s.Question,
		Answer:       s.Answer,
		Feedback:     s.Feedback,
		Comment:      s.Comment,
		UsedChunkIDs: ids,
	}
	if err := l.log.Append(ctx, rec); err != nil {
		return nil, err
	}
	metrics.FeedbackTotal.WithLabelValues(string(s.Feedback)).Inc()

	if s.Feedback != Incorrect || len(ids) == 0 {
		return &rec, nil
	}

	var (
		demoted []string
		failed  map[string]error
	)
	patch := vector.StatusPatch(vector.StatusBad)
	for _, id := range ids {
		if err := l.index.UpdateMetadata(ctx, id, patch); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[id] = err
			metrics.ChunkDemotions.WithLabelValues("failure").Inc()
			l.logger.Warn("Failed to demote chunk",
				zap.String("chunk_id", id),
				zap.String("feedback_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		demoted = append(demoted, id)
		metrics.ChunkDemotions.WithLabelValues("success").Inc()
	}

	l.logger.Info("Processed incorrect feedback",
		zap.String("feedback_id", rec.ID),
		zap.Int("demoted", len(demoted)),
		zap.Int("failed", len(failed)),
	)

	if len(demoted) > 0 && l.OnDemoted != nil {
		l.OnDemoted(ctx, demoted)
	}
	if failed != nil {
		return &rec, &PartialUpdateError{Failed: failed}
	}
	return &rec, nil
}
