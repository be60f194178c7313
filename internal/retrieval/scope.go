package retrieval

import (
	"fmt"
	"strings"
)

// Scope carries the structured plant context a question is asked in.
type Scope struct {
	Industry     string   `json:"industry"`
	PlantName    string   `json:"plant_name"`
	UnitProcess  string   `json:"unit_process"`
	KeyProcesses []string `json:"key_processes"`
	Equipment    []string `json:"equipment"`
	KnownIssues  []string `json:"known_issues"`
	Regulations  []string `json:"regulations"`
	Notes        string   `json:"notes"`
}

type Field struct {
	Label string
	Value string
}

// Fields returns the populated attributes as labelled pairs in a fixed order.
func (s *Scope) Fields() []Field {
	if s == nil {
		return nil
	}
	var out []Field
	add := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			out = append(out, Field{Label: label, Value: v})
		}
	}
	list := func(label string, vals []string) {
		var kept []string
		for _, v := range vals {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		add(label, strings.Join(kept, ", "))
	}

	add("Industry", s.Industry)
	add("Plant Name", s.PlantName)
	add("Unit Process", s.UnitProcess)
	list("Key Processes", s.KeyProcesses)
	list("Equipment", s.Equipment)
	list("Known Issues", s.KnownIssues)
	list("Regulations", s.Regulations)
	add("Notes", s.Notes)
	return out
}

func (s *Scope) Empty() bool {
	return len(s.Fields()) == 0
}

// Serialize renders the scope on one line for embedding alongside a query.
func (s *Scope) Serialize() string {
	fields := s.Fields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Label, f.Value)
	}
	return strings.Join(parts, "; ")
}
