package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantsage/backend/internal/feedback"
)

func records() []feedback.Record {
	return []feedback.Record{
		{ID: "1", Feedback: feedback.Correct, UsedChunkIDs: []string{"doc-1-1"}},
		{ID: "2", Feedback: feedback.Incorrect, Question: "temp?", Comment: "wrong section", Timestamp: "2024-05-01T11:00:00Z", UsedChunkIDs: []string{"doc-1-3", "doc-2-1"}},
		{ID: "3", Feedback: feedback.Incorrect, UsedChunkIDs: []string{"doc-1-3"}},
		{ID: "4", Feedback: feedback.Correct},
	}
}

func TestSummarize(t *testing.T) {
	r := Summarize(records(), 0)

	assert.Equal(t, 4, r.TotalFeedback)
	assert.Equal(t, 2, r.CorrectCount)
	assert.Equal(t, 2, r.IncorrectCount)
	assert.InDelta(t, 50.0, r.CorrectRate, 1e-9)
	assert.Equal(t, []ChunkCount{{"doc-1-3", 2}, {"doc-2-1", 1}}, r.DemotedChunks)
	require.Len(t, r.Comments, 1)
	assert.Equal(t, "wrong section", r.Comments[0].Comment)
}

func TestSummarizeTopN(t *testing.T) {
	r := Summarize(records(), 1)
	assert.Equal(t, []ChunkCount{{"doc-1-3", 2}}, r.DemotedChunks)
}

func TestSummarizeEmpty(t *testing.T) {
	r := Summarize(nil, 5)
	assert.Zero(t, r.TotalFeedback)
	assert.Zero(t, r.CorrectRate)
	assert.Empty(t, r.DemotedChunks)
	assert.Contains(t, GenerateReport(r), "- none")
}

func TestGenerateReport(t *testing.T) {
	out := GenerateReport(Summarize(records(), 10))
	assert.Contains(t, out, "Correct Rate: 50.0%")
	assert.Contains(t, out, "- doc-1-3: 2")
	assert.Contains(t, out, `"temp?": wrong section`)
}
