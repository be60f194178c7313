// Package evaluation summarises the feedback log for offline quality review.
package evaluation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/plantsage/backend/internal/feedback"
)

type ChunkCount struct {
	ChunkID string `json:"chunk_id"`
	Count   int    `json:"count"`
}

type IncorrectComment struct {
	FeedbackID string `json:"feedback_id"`
	Timestamp  string `json:"timestamp"`
	Question   string `json:"question"`
	Comment    string `json:"comment"`
}

type Report struct {
	TotalFeedback  int     `json:"total_feedback"`
	CorrectCount   int     `json:"correct_count"`
	IncorrectCount int     `json:"incorrect_count"`
	CorrectRate    float64 `json:"correct_rate"`

	// DemotedChunks counts how often each chunk was cited by an incorrect
	// answer, most frequent first.
	DemotedChunks []ChunkCount       `json:"demoted_chunks"`
	Comments      []IncorrectComment `json:"comments"`
}

// Summarize aggregates feedback records. topN limits DemotedChunks; zero or
// less keeps every chunk.
func Summarize(records []feedback.Record, topN int) *Report {
	report := &Report{
		TotalFeedback: len(records),
		DemotedChunks: []ChunkCount{},
		Comments:      []IncorrectComment{},
	}

	demoted := make(map[string]int)
	for _, r := range records {
		switch r.Feedback {
		case feedback.Correct:
			report.CorrectCount++
		case feedback.Incorrect:
			report.IncorrectCount++
			for _, id := range r.UsedChunkIDs {
				demoted[id]++
			}
			if strings.TrimSpace(r.Comment) != "" {
				report.Comments = append(report.Comments, IncorrectComment{
					FeedbackID: r.ID,
					Timestamp:  r.Timestamp,
					Question:   r.Question,
					Comment:    r.Comment,
				})
			}
		}
	}

	if judged := report.CorrectCount + report.IncorrectCount; judged > 0 {
		report.CorrectRate = float64(report.CorrectCount) / float64(judged) * 100
	}

	for id, n := range demoted {
		report.DemotedChunks = append(report.DemotedChunks, ChunkCount{ChunkID: id, Count: n})
	}
	sort.Slice(report.DemotedChunks, func(i, j int) bool {
		a, b := report.DemotedChunks[i], report.DemotedChunks[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.ChunkID < b.ChunkID
	})
	if topN > 0 && len(report.DemotedChunks) > topN {
		report.DemotedChunks = report.DemotedChunks[:topN]
	}

	return report
}

func GenerateReport(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Feedback Report
===============

Total Feedback: %d
- Correct: %d
- Incorrect: %d
Correct Rate: %.1f%%
`,
		report.TotalFeedback,
		report.CorrectCount,
		report.IncorrectCount,
		report.CorrectRate,
	)

	b.WriteString("\nMost Demoted Chunks:\n")
	if len(report.DemotedChunks) == 0 {
		b.WriteString("- none\n")
	}
	for _, c := range report.DemotedChunks {
		fmt.Fprintf(&b, "- %s: %d\n", c.ChunkID, c.Count)
	}

	b.WriteString("\nIncorrect Answer Comments:\n")
	if len(report.Comments) == 0 {
		b.WriteString("- none\n")
	}
	for _, c := range report.Comments {
		fmt.Fprintf(&b, "- [%s] %q: %s\n", c.Timestamp, c.Question, c.Comment)
	}
	return b.String()
}
