package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plantsage/backend/internal/vector"
)

func TestBuildExpr_Empty(t *testing.T) {
	assert.Equal(t, "", buildExpr(vector.Filter{}))
}

func TestBuildExpr_QualityGateAndTag(t *testing.T) {
	expr := buildExpr(vector.Filter{
		ExcludeBad:   true,
		ContentTypes: []vector.ContentType{vector.ContentTimeSeries, vector.ContentRule},
		Tags:         map[string]string{vector.TagLabel: "Vibration", vector.TagIndustry: "Water Treatment"},
	})
	assert.Equal(t,
		`status != "bad" && content_type in ["time_series", "rule"] && industry == "Water Treatment" && tag_label == "Vibration"`,
		expr)
}

func TestBuildExpr_UserScopeAndEscaping(t *testing.T) {
	expr := buildExpr(vector.Filter{UserID: `u"1\`})
	assert.Equal(t, `(user_id == "u\"1\\" || user_id == "")`, expr)
}
