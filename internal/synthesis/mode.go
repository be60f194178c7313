package synthesis

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is the grounding policy for an answer.
type Mode int

const (
	// ModeStrict answers only from retrieved evidence.
	ModeStrict Mode = iota
	// ModeHybrid uses evidence first and model knowledge for the gaps.
	ModeHybrid
	// ModeNarrative describes time-series evidence in a descriptive tone.
	ModeNarrative
)

var ErrUnsupportedMode = errors.New("unsupported grounding mode")

var modeNames = map[Mode]string{
	ModeStrict:    "strict",
	ModeHybrid:    "hybrid",
	ModeNarrative: "narrative",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == key {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
}

// ModeFromUseExternal maps the legacy boolean toggle.
func ModeFromUseExternal(useExternal bool) Mode {
	if useExternal {
		return ModeHybrid
	}
	return ModeStrict
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMode, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
