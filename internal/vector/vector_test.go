package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Accepts(t *testing.T) {
	c := Chunk{
		ID:          "c1",
		ContentType: ContentTimeSeries,
		ScopeTags:   map[string]string{TagLabel: "Vibration", TagUser: "u1"},
		Status:      StatusActive,
	}

	assert.True(t, Filter{}.Accepts(c))
	assert.True(t, Filter{Tags: map[string]string{TagLabel: "Vibration"}}.Accepts(c))
	assert.False(t, Filter{Tags: map[string]string{TagLabel: "Temperature"}}.Accepts(c))
	assert.True(t, Filter{ContentTypes: []ContentType{ContentTimeSeries, ContentRule}}.Accepts(c))
	assert.False(t, Filter{ContentTypes: []ContentType{ContentDocument}}.Accepts(c))
	assert.True(t, Filter{UserID: "u1"}.Accepts(c))
	assert.False(t, Filter{UserID: "u2"}.Accepts(c))

	shared := Chunk{ID: "c2", Status: StatusActive}
	assert.True(t, Filter{UserID: "u2"}.Accepts(shared))

	c.Status = StatusBad
	assert.True(t, Filter{}.Accepts(c))
	assert.False(t, Filter{ExcludeBad: true}.Accepts(c))
}

func TestNormalize(t *testing.T) {
	c, err := Normalize(Chunk{ID: "a", Vector: []float32{1, 2}}, 2)
	require.NoError(t, err)
	assert.Equal(t, ContentDocument, c.ContentType)
	assert.Equal(t, StatusActive, c.Status)

	_, err = Normalize(Chunk{ID: "a", Vector: []float32{1}}, 2)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Normalize(Chunk{Vector: []float32{1}}, 1)
	assert.Error(t, err)

	_, err = Normalize(Chunk{ID: "a", Vector: []float32{1}, ContentType: "video"}, 1)
	assert.Error(t, err)
}

func TestSortMatches(t *testing.T) {
	ms := []Match{
		{Chunk: Chunk{ID: "b"}, Score: 0.5},
		{Chunk: Chunk{ID: "c"}, Score: 0.9},
		{Chunk: Chunk{ID: "a"}, Score: 0.5},
	}
	SortMatches(ms)
	assert.Equal(t, "c", ms[0].Chunk.ID)
	assert.Equal(t, "a", ms[1].Chunk.ID)
	assert.Equal(t, "b", ms[2].Chunk.ID)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Equal(t, float32(0), Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, float32(0), Cosine([]float32{1}, []float32{1, 1}))
}
