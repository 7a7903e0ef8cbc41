// File: internal/session/render.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Render navigates the session's page to targetURL, waits for the DOM to be
// ready, and returns the fully serialized HTML of the resulting document.
//
// The shared tab is a single stateful resource, so the whole
// navigate-then-capture transaction runs under the page semaphore: a second
// request cannot overwrite the page before the first captures its content.
// Errors here are request-local; they never tear the session down.
func (m *Manager) Render(ctx context.Context, targetURL string) (string, error) {
	if !m.Authenticated() {
		return "", ErrNotAuthenticated
	}

	// Pace navigations against the provider before queueing for the page.
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait canceled: %w", err)
	}

	if err := m.pageSem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("failed to acquire page: %w", err)
	}
	defer m.pageSem.Release(1)

	// The session may have been torn down while this request queued.
	if !m.Authenticated() {
		return "", ErrNotAuthenticated
	}

	start := time.Now()
	m.logger.Debug("Rendering page.", zap.String("url", targetURL))

	var html string
	if err := m.runNav(ctx,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("failed to render %q: %w", targetURL, err)
	}

	m.logger.Info("Page rendered.",
		zap.String("url", targetURL),
		zap.Int("html_bytes", len(html)),
		zap.Duration("elapsed", time.Since(start)))
	return html, nil
}
