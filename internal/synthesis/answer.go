package synthesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrMalformedOutput = errors.New("malformed model output")

const maxFollowUps = 2

// Answer is the structured answer returned to callers.
type Answer struct {
	Text             string   `json:"answer"`
	InternalSource   string   `json:"internal_source"`
	ExternalSource   string   `json:"external_source"`
	GroundingPercent string   `json:"document_grounding_percent"`
	UsedExternal     Flag     `json:"used_external_knowledge"`
	FollowUps        []string `json:"following_up"`
	CitedChunkIDs    []string `json:"used_chunk_ids"`
	// Fallback is set when the model output could not be parsed.
	Fallback bool `json:"-"`
}

// FallbackAnswer is returned in place of unparseable model output.
func FallbackAnswer() *Answer {
	return &Answer{
		GroundingPercent: "0",
		FollowUps:        []string{},
		CitedChunkIDs:    []string{},
		Fallback:         true,
	}
}

func insufficientAnswer() *Answer {
	return &Answer{
		Text:             InsufficientInformation,
		GroundingPercent: "0",
		FollowUps:        []string{},
		CitedChunkIDs:    []string{},
	}
}

// Flag is a boolean encoded on the wire as "true" or "false". It also
// accepts bare JSON booleans.
type Flag bool

func (f Flag) String() string { return strconv.FormatBool(bool(f)) }

func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = Flag(t)
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return fmt.Errorf("invalid flag %q", t)
		}
		*f = Flag(parsed)
	default:
		return fmt.Errorf("invalid flag %s", b)
	}
	return nil
}

// percent accepts 93, "93" or "93%".
type percent int

func (p *percent) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*p = percent(int(t))
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		if s == "" {
			*p = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid percent %q", t)
		}
		*p = percent(int(f))
	default:
		return fmt.Errorf("invalid percent %s", b)
	}
	return nil
}

type wireAnswer struct {
	Answer           *string  `json:"answer" validate:"required"`
	InternalSource   string   `json:"internal_source"`
	ExternalSource   string   `json:"external_source"`
	GroundingPercent percent  `json:"document_grounding_percent" validate:"gte=0,lte=100"`
	UsedExternal     Flag     `json:"used_external_knowledge"`
	FollowingUp      []string `json:"following_up" validate:"required"`
	UsedChunkIDs     []string `json:"used_chunk_ids"`
}

var validate = validator.New()

// Parse decodes raw model output against the answer contract. Any failure
// wraps ErrMalformedOutput.
func Parse(raw string) (*Answer, error) {
	body := stripFence(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}

	var w wireAnswer
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedOutput)
	}
	if err := validate.Struct(w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	a := &Answer{
		Text:             strings.TrimSpace(*w.Answer),
		InternalSource:   strings.TrimSpace(w.InternalSource),
		ExternalSource:   strings.TrimSpace(w.ExternalSource),
		GroundingPercent: strconv.Itoa(int(w.GroundingPercent)),
		UsedExternal:     w.UsedExternal,
		FollowUps:        make([]string, 0, maxFollowUps),
		CitedChunkIDs:    w.UsedChunkIDs,
	}
	for _, q := range w.FollowingUp {
		if q = strings.TrimSpace(q); q == "" {
			continue
		}
		if len(a.FollowUps) == maxFollowUps {
			break
		}
		a.FollowUps = append(a.FollowUps, q)
	}
	return a, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
