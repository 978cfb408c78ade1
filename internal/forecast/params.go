package forecast

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Params are the validated acquisition parameters.
type Params struct {
	Countries []string
	Topics    string
	Language  string
	Horizon   string
	Depth     string
}

func (p Params) Query() url.Values {
	v := url.Values{}
	v.Set("countries", strings.Join(p.Countries, ","))
	v.Set("topics", p.Topics)
	v.Set("language", p.Language)
	v.Set("time_horizon", p.Horizon)
	v.Set("depth", p.Depth)
	return v
}

// PageURL builds the hash-routed address the rendered page serves the
// report under.
func (p Params) PageURL(base string) string {
	return fmt.Sprintf("%s/#/news-json?%s", strings.TrimRight(base, "/"), p.Query().Encode())
}

// DirectURL builds the plain endpoint address for the direct strategy.
func (p Params) DirectURL(base string) string {
	return fmt.Sprintf("%s/news-json?%s", strings.TrimRight(base, "/"), p.Query().Encode())
}

// WithCacheBuster appends a cb=<ms> query parameter, inserted before any
// URL fragment. The separator depends on whether a query string already
// precedes the fragment.
func WithCacheBuster(rawURL string, at time.Time) string {
	cb := fmt.Sprintf("cb=%d", at.UnixMilli())
	if base, frag, found := strings.Cut(rawURL, "#"); found {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		return base + sep + cb + "#" + frag
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + cb
}
