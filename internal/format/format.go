// Package format turns an acquired report into Telegram-ready HTML
// messages, one per topic, chunked to the message size limit.
package format

import (
	"fmt"
	"strconv"
	"strings"

	"forecastbot/internal/forecast"
	"forecastbot/pkg/tghtml"
)

// maxSources is how many source links a topic message lists before
// collapsing the remainder into a count.
const maxSources = 5

// SentimentLabel maps a 0-100 display score to its coarse label.
func SentimentLabel(score float64) string {
	switch {
	case score > 60:
		return "Positive"
	case score < 40:
		return "Negative"
	default:
		return "Neutral"
	}
}

func sentimentLine(score float64) tghtml.H {
	s := strconv.FormatFloat(score, 'f', -1, 64)
	return tghtml.Raw(tghtml.B("Sentiment:").String() + " " + tghtml.Esc(s+" ("+SentimentLabel(score)+")").String())
}

// Empty is the message sent when a report carries no results.
const Empty = "No significant news found for these parameters."

// Report renders every topic result as its own message, splitting any
// oversized topic at line boundaries.
func Report(r *forecast.Report) []string {
	if r == nil || len(r.Results) == 0 {
		return []string{Empty}
	}

	var msgs []string
	for i := range r.Results {
		text := Topic(&r.Results[i])
		msgs = append(msgs, tghtml.Chunk(text, tghtml.MaxMessageLen)...)
	}
	return msgs
}

// Topic renders a single topic result as one HTML message.
func Topic(res *forecast.Result) string {
	var parts []tghtml.H

	topic := res.Topic
	if strings.TrimSpace(topic) == "" {
		topic = "Unknown Topic"
	}
	parts = append(parts,
		tghtml.B(topic),
		contextLine(res.Metadata),
		sentimentLine(res.SentimentScoreDisplay),
		"",
		tghtml.Esc(res.Summary),
	)

	if strings.TrimSpace(res.ConvergenceAnalysis) != "" {
		parts = append(parts,
			"",
			tghtml.B("Narrative Comparison:"),
			tghtml.Esc(res.ConvergenceAnalysis),
		)
	}

	if len(res.Sources) > 0 {
		parts = append(parts, "", tghtml.B("Sources:"))
		shown := res.Sources
		if len(shown) > maxSources {
			shown = shown[:maxSources]
		}
		for i, src := range shown {
			name := src.Name
			if strings.TrimSpace(name) == "" {
				name = "Source"
			}
			var line tghtml.H
			if src.URL != "" {
				line = tghtml.Raw(fmt.Sprintf("%d. %s", i+1, tghtml.Link(name, src.URL)))
			} else {
				line = tghtml.Raw(fmt.Sprintf("%d. %s", i+1, tghtml.Esc(name)))
			}
			parts = append(parts, line)
		}
		if extra := len(res.Sources) - maxSources; extra > 0 {
			parts = append(parts, tghtml.I(fmt.Sprintf("+%d more sources", extra)))
		}
	}

	return joinLines(parts)
}

func contextLine(m *forecast.Metadata) tghtml.H {
	countries, window, mode := "?", "?", "?"
	if m != nil {
		if m.Countries != "" {
			countries = m.Countries
		}
		if m.TimeWindow != "" {
			window = m.TimeWindow
		}
		if m.OutputMode != "" {
			mode = m.OutputMode
		}
	}
	return tghtml.I("Context: " + countries + " | " + window + " | " + mode)
}

// joinLines joins parts with newlines, keeping empty strings as blank
// separator lines.
func joinLines(parts []tghtml.H) string {
	ss := make([]string, len(parts))
	for i, p := range parts {
		ss[i] = p.String()
	}
	return strings.Join(ss, "\n")
}
