package forecast

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Report is the acquired payload: an ordered list of per-topic results.
// Raw preserves the upstream JSON for fingerprinting.
type Report struct {
	Results []Result `json:"results"`

	Raw json.RawMessage `json:"-"`
}

type Result struct {
	Topic                 string     `json:"topic"`
	Summary               string     `json:"summary"`
	Sources               []Source   `json:"sources"`
	SentimentScoreDisplay float64    `json:"sentimentScoreDisplay"`
	ConvergenceAnalysis   string     `json:"convergenceAnalysis,omitempty"`
	Metadata              *Metadata  `json:"metadata,omitempty"`
	Error                 ErrorValue `json:"error,omitempty"`
}

type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Metadata is upstream-controlled and loosely typed: articleCount has been
// observed both as a number and as a numeric string.
type Metadata struct {
	Countries    string          `json:"countries,omitempty"`
	TimeWindow   string          `json:"timeWindow,omitempty"`
	OutputMode   string          `json:"outputMode,omitempty"`
	ArticleCount json.RawMessage `json:"articleCount,omitempty"`
}

// ArticleCountValue parses the articleCount field.
// ok is false when the field is absent or does not parse as an integer;
// per the acceptance rules a parse failure is ignored, not fatal.
func (m *Metadata) ArticleCountValue() (int64, bool) {
	if m == nil || len(m.ArticleCount) == 0 {
		return 0, false
	}
	s := strings.TrimSpace(string(m.ArticleCount))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ErrorValue holds a result's error field verbatim. Upstream emits it
// either as a plain string or as a structured object.
type ErrorValue struct {
	raw json.RawMessage
}

func (e *ErrorValue) UnmarshalJSON(b []byte) error {
	e.raw = append(e.raw[:0], b...)
	return nil
}

func (e ErrorValue) MarshalJSON() ([]byte, error) {
	if len(e.raw) == 0 {
		return []byte("null"), nil
	}
	return e.raw, nil
}

// IsEmpty reports whether the error field is absent or carries no signal
// (null or an empty string).
func (e ErrorValue) IsEmpty() bool {
	t := bytes.TrimSpace(e.raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte(`""`))
}

// Str returns the error as a string when it is one.
func (e ErrorValue) Str() (string, bool) {
	var s string
	if err := json.Unmarshal(e.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Object returns the error as a structured object. A string error that
// itself contains JSON is unwrapped one level, matching upstream behavior
// of stuffing serialized errors into the string field.
func (e ErrorValue) Object() (map[string]any, bool) {
	if len(e.raw) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(e.raw, &m); err == nil {
		return m, true
	}
	if s, ok := e.Str(); ok {
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			return m, true
		}
	}
	return nil, false
}

// DecodeReport parses raw bytes into a Report, preserving the raw payload.
func DecodeReport(b []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	r.Raw = append(json.RawMessage(nil), b...)
	return &r, nil
}
