// Package websource models declared external sources the Drafter cites
// alongside its answer, giving the Verifier a third anchor kind beyond the
// Searcher's retrieval hits and the grounding graph's confirmed claims.
package websource

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// #region types

// Source is one externally declared reference the Drafter attached to a
// draft, distinct from adapter.SearchResult in that it was asserted by the
// Drafter itself rather than retrieved by the Verifier.
type Source struct {
	Title   string
	Snippet string
	URL     string
}

// Config holds source-declaration acceptance parameters.
type Config struct {
	MaxSources       int
	Timeout          time.Duration
	Enabled          bool
	DriftThreshold   float64
}

// #endregion types

// #region config

// DefaultConfig returns defaults, overridable via WEBSOURCE_ENABLED,
// WEBSOURCE_MAX_SOURCES, WEBSOURCE_TIMEOUT, WEBSOURCE_DRIFT_THRESHOLD —
// named the same way the teacher's websearch.DefaultConfig reads
// WEB_SEARCH_* env vars.
func DefaultConfig() Config {
	cfg := Config{
		MaxSources:     3,
		Timeout:        10 * time.Second,
		Enabled:        true,
		DriftThreshold: 0.3,
	}
	if v := os.Getenv("WEBSOURCE_ENABLED"); v != "" {
		cfg.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WEBSOURCE_MAX_SOURCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSources = n
		}
	}
	if v := os.Getenv("WEBSOURCE_TIMEOUT"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.Timeout = time.Duration(sec) * time.Second
		}
	}
	if v := os.Getenv("WEBSOURCE_DRIFT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DriftThreshold = f
		}
	}
	return cfg
}

// #endregion config

// #region parse

// ParseDeclared extracts declared sources from a draft's trailing
// "Sources:" block, if present, capped at cfg.MaxSources. When the upstream
// model's draft carries no such block, ParseDeclared simply returns nothing
// and the Verifier falls back to its other anchor kinds.
func ParseDeclared(text string, cfg Config) []Source {
	idx := strings.LastIndex(strings.ToLower(text), "sources:")
	if idx < 0 {
		return nil
	}
	block := text[idx+len("sources:"):]
	lines := strings.Split(block, "\n")

	var sources []Source
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" {
			continue
		}
		if len(sources) >= cfg.MaxSources {
			break
		}
		sources = append(sources, Source{Title: line})
	}
	return sources
}

// #endregion parse

// #region format

// FormatAsEvidence renders declared sources as a numbered plain-text
// "[Declared Sources]" block, one entry per source with its snippet and URL
// when present.
func FormatAsEvidence(sources []Source) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[Declared Sources]\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Title)
		if s.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", s.Snippet)
		}
		if s.URL != "" {
			fmt.Fprintf(&b, "   Source: %s\n", s.URL)
		}
	}
	return b.String()
}

// #endregion format
