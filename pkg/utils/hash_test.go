package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString_Deterministic(t *testing.T) {
	assert.Equal(t, HashString("a", "b"), HashString("a", "b"))
	assert.NotEqual(t, HashString("ab"), HashString("a", "b"))
	assert.Len(t, HashString("x"), 64)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Pump SOP v2.pdf": "pump-sop-v2-pdf",
		"  --Boiler--  ":  "boiler",
		"Ölpumpe Wartung": "ölpumpe-wartung",
		"":                "",
		"doc":             "doc",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}
