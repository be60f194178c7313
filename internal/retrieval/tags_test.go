package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVocabulary_Extract(t *testing.T) {
	cases := []struct {
		query string
		want  []string
	}{
		{"What is the vibration threshold?", []string{"Vibration"}},
		{"VIB trend on pump 3", []string{"Vibration"}},
		{"temp and cond after CIP", []string{"Temperature", "Conductivity"}},
		{"Temperature, temp, TEMPERATURE", []string{"Temperature"}},
		{"Why does the feeder jam?", nil},
		{"what pH should the clarifier hold", []string{"pH"}},
		{"three phase motor", nil},
		{"for example the line stops", nil},
		{"motor amps are high", []string{"Current"}},
		{"pressure, flow and level at the boiler", []string{"Pressure", "Flow", "Level"}},
		{"second attempt on the compressor", nil},
		{"secondary tank overflow", nil},
		{"motor temps and vib1 readings", []string{"Vibration", "Temperature"}},
		{"high-pressure steam", []string{"Pressure"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DefaultVocabulary.Extract(tc.query), tc.query)
	}
}

func TestVocabulary_Extensible(t *testing.T) {
	vocab := append(Vocabulary{{Canonical: "Torque", Synonyms: []string{"torque", "nm"}}}, DefaultVocabulary...)
	assert.Equal(t, []string{"Torque", "Speed"}, vocab.Extract("torque vs rpm"))
}

func TestScope_FieldsAndSerialize(t *testing.T) {
	var nilScope *Scope
	assert.True(t, nilScope.Empty())
	assert.True(t, (&Scope{KeyProcesses: []string{" "}}).Empty())

	s := &Scope{
		Industry:     "Feed Milling",
		PlantName:    "North Mill",
		KeyProcesses: []string{"Pelleting", "", "Conditioning"},
		Notes:        "night shift",
	}
	assert.Equal(t, []Field{
		{Label: "Industry", Value: "Feed Milling"},
		{Label: "Plant Name", Value: "North Mill"},
		{Label: "Key Processes", Value: "Pelleting, Conditioning"},
		{Label: "Notes", Value: "night shift"},
	}, s.Fields())
	assert.Equal(t, "Industry: Feed Milling; Plant Name: North Mill; Key Processes: Pelleting, Conditioning; Notes: night shift", s.Serialize())
}
