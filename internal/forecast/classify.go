package forecast

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Block classification of a single rendered preformatted text block.
type BlockKind int

const (
	// BlockUnrecognized covers malformed or irrelevant blocks.
	BlockUnrecognized BlockKind = iota
	// BlockLoading is an upstream loading indicator.
	BlockLoading
	// BlockCandidate parsed as a report payload and awaits second-stage
	// classification.
	BlockCandidate
)

const loadingPrefix = "loading analysis"

// Block is the first-stage tag of one preformatted text block.
type Block struct {
	Kind   BlockKind
	Report *Report // set for BlockCandidate
}

// ScanBlock tags a trimmed text block. A block is a candidate when it
// starts with "{", carries a "results" marker, and parses as JSON.
func ScanBlock(text string) Block {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToLower(t), loadingPrefix) {
		return Block{Kind: BlockLoading}
	}
	if !strings.HasPrefix(t, "{") || !strings.Contains(t, `"results"`) {
		return Block{Kind: BlockUnrecognized}
	}
	r, err := DecodeReport([]byte(t))
	if err != nil {
		return Block{Kind: BlockUnrecognized}
	}
	return Block{Kind: BlockCandidate, Report: r}
}

// Verdict is the second-stage classification of a candidate report.
type Verdict int

const (
	VerdictRejected Verdict = iota
	VerdictFinal
	VerdictCredentialInvalid
)

// Acceptance holds the policy thresholds for the final-report predicate.
// The values are ad hoc tuning, kept configurable rather than baked in.
type Acceptance struct {
	MinSummaryLen int
	MinSources    int
}

func DefaultAcceptance() Acceptance {
	return Acceptance{MinSummaryLen: 20, MinSources: 1}
}

func (a Acceptance) withDefaults() Acceptance {
	if a.MinSummaryLen <= 0 {
		a.MinSummaryLen = 20
	}
	if a.MinSources <= 0 {
		a.MinSources = 1
	}
	return a
}

// IsFinal applies the acceptance predicate: every result must carry no
// non-empty error, a summary of at least MinSummaryLen characters after
// trimming, at least MinSources sources, and a positive articleCount
// when the metadata field is present and parseable.
func (a Acceptance) IsFinal(r *Report) (bool, string) {
	a = a.withDefaults()
	if r == nil || len(r.Results) == 0 {
		return false, "missing or empty results"
	}
	for i, item := range r.Results {
		if !item.Error.IsEmpty() {
			return false, fmt.Sprintf("results[%d] has error", i)
		}
		// Character count, not bytes: Cyrillic summaries must not get a
		// 2x head start on the threshold.
		summary := strings.TrimSpace(item.Summary)
		if n := utf8.RuneCountInString(summary); n < a.MinSummaryLen {
			return false, fmt.Sprintf("results[%d] summary too short (%d)", i, n)
		}
		if len(item.Sources) < a.MinSources {
			return false, fmt.Sprintf("results[%d] sources too few (%d)", i, len(item.Sources))
		}
		if n, ok := item.Metadata.ArticleCountValue(); ok && n <= 0 {
			return false, fmt.Sprintf("results[%d] articleCount <= 0", i)
		}
	}
	return true, "ok"
}

// Classify runs the second stage on a parsed candidate.
func (a Acceptance) Classify(r *Report) (Verdict, string) {
	if ok, _ := a.IsFinal(r); ok {
		return VerdictFinal, "ok"
	}
	if IsCredentialInvalid(r) {
		return VerdictCredentialInvalid, "credential rejected by upstream"
	}
	_, reason := a.IsFinal(r)
	return VerdictRejected, reason
}

// IsCredentialInvalid detects the upstream invalid-credential signature in
// any result error: a string containing "api key not valid" or
// "api_key_invalid", or a structured error whose message carries the
// former, or whose INVALID_ARGUMENT/PERMISSION_DENIED status details name
// an API_KEY_INVALID reason (directly or in detail metadata values).
func IsCredentialInvalid(r *Report) bool {
	if r == nil {
		return false
	}
	for _, item := range r.Results {
		if item.Error.IsEmpty() {
			continue
		}
		if s, ok := item.Error.Str(); ok {
			low := strings.ToLower(s)
			if strings.Contains(low, "api key not valid") || strings.Contains(low, "api_key_invalid") {
				return true
			}
		}
		obj, ok := item.Error.Object()
		if !ok {
			continue
		}
		if credentialErrorObject(obj) {
			return true
		}
	}
	return false
}

func credentialErrorObject(obj map[string]any) bool {
	inner, _ := obj["error"].(map[string]any)
	if inner == nil {
		return false
	}
	msg, _ := inner["message"].(string)
	if strings.Contains(strings.ToLower(msg), "api key not valid") {
		return true
	}
	status, _ := inner["status"].(string)
	if status != "INVALID_ARGUMENT" && status != "PERMISSION_DENIED" {
		return false
	}
	details, _ := inner["details"].([]any)
	for _, d := range details {
		dm, ok := d.(map[string]any)
		if !ok {
			continue
		}
		reason, _ := dm["reason"].(string)
		if strings.EqualFold(reason, "API_KEY_INVALID") {
			return true
		}
		meta, _ := dm["metadata"].(map[string]any)
		for _, v := range meta {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), "api_key_invalid") {
				return true
			}
		}
	}
	return false
}

// Inspection is the outcome of scanning all rendered blocks once.
type Inspection struct {
	Report            *Report
	LoadingPresent    bool
	CredentialInvalid bool
}

// Inspect classifies one poll's blocks. The first final candidate wins;
// failing that, the first credential-invalid candidate is reported.
// Loading-state tracking is independent of both.
func (a Acceptance) Inspect(texts []string) Inspection {
	insp := Inspection{}
	var candidates []*Report
	for _, t := range texts {
		b := ScanBlock(t)
		switch b.Kind {
		case BlockLoading:
			insp.LoadingPresent = true
		case BlockCandidate:
			candidates = append(candidates, b.Report)
		}
	}
	for _, r := range candidates {
		if ok, _ := a.IsFinal(r); ok {
			insp.Report = r
			return insp
		}
	}
	for _, r := range candidates {
		if IsCredentialInvalid(r) {
			insp.CredentialInvalid = true
			return insp
		}
	}
	return insp
}
