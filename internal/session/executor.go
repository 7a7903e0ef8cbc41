// File: internal/session/executor.go
package session

import (
	"context"
	"fmt"
	"strings"

	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/formgate/internal/config"
)

// pageExecutor is the seam between the login state machine and the live
// browser tab. Production code drives CDP through chromedp; tests substitute
// a scripted implementation to walk the state machine without a browser
// process.
type pageExecutor interface {
	// Run executes page actions against the current document.
	Run(ctx context.Context, actions ...chromedp.Action) error
	// Submit executes actions expected to set off a cross-document
	// navigation and blocks until the resulting document has loaded.
	Submit(ctx context.Context, actions ...chromedp.Action) error
	// Evaluate runs script in the page and decodes the result into out.
	Evaluate(ctx context.Context, script string, out *int) error
}

// cdpExecutor implements pageExecutor on a chromedp tab context.
type cdpExecutor struct{}

var _ pageExecutor = cdpExecutor{}

func (cdpExecutor) Run(ctx context.Context, actions ...chromedp.Action) error {
	return chromedp.Run(ctx, actions...)
}

// Submit confirms the navigation a submit click sets off. Clicking and then
// waiting on "body" is not enough: the pre-submit document's body is already
// ready, so that wait returns immediately against the old page. Submit
// subscribes to the tab's load events before clicking, waits for the next
// one, and only then waits for the new DOM.
func (cdpExecutor) Submit(ctx context.Context, actions ...chromedp.Action) error {
	loaded := make(chan struct{}, 1)
	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	if err := chromedp.Run(ctx, actions...); err != nil {
		return err
	}

	select {
	case <-loaded:
	case <-ctx.Done():
		return fmt.Errorf("no document load observed after submit: %w", ctx.Err())
	}
	return chromedp.Run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (cdpExecutor) Evaluate(ctx context.Context, script string, out *int) error {
	return chromedp.Run(ctx, chromedp.Evaluate(script, out))
}

// launchFunc starts the browser and returns the tab context plus the cancel
// functions for the tab and the allocator.
type launchFunc func(ctx context.Context, cfg config.BrowserConfig) (context.Context, context.CancelFunc, context.CancelFunc, error)

// launchChromium starts a headless Chromium process and connects one tab.
func launchChromium(ctx context.Context, cfg config.BrowserConfig) (context.Context, context.CancelFunc, context.CancelFunc, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	for _, arg := range cfg.Args {
		name, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process and connects the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return tabCtx, tabCancel, allocCancel, nil
}

// extraHeaderActions enables the network domain and installs the configured
// extra HTTP headers. SetExtraHTTPHeaders has no effect unless the network
// domain is enabled first.
func extraHeaderActions(extra map[string]string) []chromedp.Action {
	headers := make(cdpnetwork.Headers, len(extra))
	for k, v := range extra {
		headers[k] = v
	}
	return []chromedp.Action{
		cdpnetwork.Enable(),
		cdpnetwork.SetExtraHTTPHeaders(headers),
	}
}
