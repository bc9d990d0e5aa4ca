// Package handler holds the concrete task types the engine executes.
// Handlers are registered explicitly at process start; see cmd/worker.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/pagehaul/pagehaul/internal/domain"
	"github.com/pagehaul/pagehaul/internal/registry"
)

// Task type names registered by this package.
const (
	TypeScrape   = "scrape"
	TypeSnapshot = "snapshot"
)

// ScrapeHandler fetches a target page, extracts its structural features,
// and scores them against the regression model. Blacklisted targets are a
// successful no-op: no session is acquired and no navigation happens.
type ScrapeHandler struct {
	logger *slog.Logger
}

// NewScrapeHandler creates a ScrapeHandler.
func NewScrapeHandler(logger *slog.Logger) *ScrapeHandler {
	return &ScrapeHandler{logger: logger.With("task_type", TypeScrape)}
}

// Validate requires a "target" argument holding an absolute http(s) URL.
func (h *ScrapeHandler) Validate(args map[string]any) error {
	return validateTarget(args)
}

// Execute runs one scrape: blacklist check, navigate, extract, score.
func (h *ScrapeHandler) Execute(ctx context.Context, task *domain.Task, deps registry.Deps) (*domain.TaskResult, error) {
	target, _ := task.StringArg("target")

	if deps.Filter.IsBlocked(filterCandidate(target)) {
		h.logger.Info("target blacklisted, skipping", "task_id", task.ID, "target", target)
		return domain.FilteredResult(), nil
	}

	session, err := deps.Sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	healthy := false
	defer func() { deps.Sessions.Release(session, healthy) }()

	page, err := session.Navigate(ctx, target)
	if err != nil {
		// Navigation failure may mean a wedged session; recycle it.
		return nil, err
	}
	healthy = true

	features := extractFeatures(page.HTML)
	result := domain.SuccessResult(map[string]any{
		"target":      target,
		"title":       page.Title,
		"h2_count":    features["h2_count"],
		"p_avg_words": features["p_avg_words"],
	})

	score, err := deps.Scorer.Score(features)
	if err != nil {
		// Feature mismatch is a data contract violation, not transient.
		return nil, err
	}
	result.Score = &score

	return result, nil
}

// validateTarget checks the shared "target" argument contract.
func validateTarget(args map[string]any) error {
	raw, ok := args["target"]
	if !ok {
		return fmt.Errorf("%w: missing required argument %q", domain.ErrValidation, "target")
	}
	target, ok := raw.(string)
	if !ok || target == "" {
		return fmt.Errorf("%w: argument %q must be a non-empty string", domain.ErrValidation, "target")
	}

	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: argument %q is not a valid URL: %v", domain.ErrValidation, "target", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: argument %q must be an http(s) URL", domain.ErrValidation, "target")
	}
	if u.Host == "" {
		return fmt.Errorf("%w: argument %q has no host", domain.ErrValidation, "target")
	}
	return nil
}

// filterCandidate reduces a target URL to the identifier the blacklist
// holds: its hostname. Non-URL candidates pass through unchanged.
func filterCandidate(target string) string {
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		return u.Hostname()
	}
	return target
}

// extractFeatures walks the document and produces the model's feature
// vector: the h2 heading count and the average word count per paragraph.
func extractFeatures(rawHTML string) map[string]float64 {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		// html.Parse is lenient; a hard failure means no usable DOM.
		return map[string]float64{"h2_count": 0, "p_avg_words": 0}
	}

	var h2Count, pCount, pWords int
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h2":
				h2Count++
			case "p":
				pCount++
				pWords += len(strings.Fields(textContent(n)))
			case "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	avgWords := 0.0
	if pCount > 0 {
		avgWords = float64(pWords) / float64(pCount)
	}
	return map[string]float64{
		"h2_count":    float64(h2Count),
		"p_avg_words": avgWords,
	}
}

// textContent concatenates the text nodes under n.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
