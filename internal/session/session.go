// File: internal/session/session.go

// Package session owns the single authenticated browser session the gateway
// serves from. The Manager drives the login state machine against the
// identity provider, holding exactly one browser and one tab, and exposes the
// tab to callers through serialized navigate-and-capture transactions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/formgate/internal/config"
	"github.com/xkilldash9x/formgate/internal/prompt"
)

// Sentinel errors surfaced by the login state machine and the render path.
var (
	// ErrNotAuthenticated is returned when the page is used before the
	// session reached Authenticated, or after it was torn down.
	ErrNotAuthenticated = errors.New("session is not authenticated")
	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("session already initialized")
	// ErrVerificationOptionNotFound means the provider raised a challenge but
	// offered no email-code verification path.
	ErrVerificationOptionNotFound = errors.New("verification option not found")
	// ErrUnknownChallenge means a challenge marker matched that the detection
	// table cannot handle. The login fails closed.
	ErrUnknownChallenge = errors.New("unknown challenge kind detected")
)

// Manager brings the session from Uninitialized to Authenticated, or fails
// deterministically. At most one Manager exists per process.
type Manager struct {
	cfg    *config.Config
	creds  config.Credentials
	codes  prompt.CodeSource
	logger *zap.Logger
	id     string

	// exec drives page actions; launch starts the browser. Both are
	// swappable so the state machine can be exercised without a Chrome
	// process.
	exec   pageExecutor
	launch launchFunc

	// Browser resources. Both nil unless the session is live.
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu    sync.Mutex
	state State

	// pageSem serializes page-mutating transactions: at most one
	// navigate-then-capture is in flight on the shared tab at any time.
	pageSem *semaphore.Weighted
	// limiter paces authenticated navigations against the provider.
	limiter *rate.Limiter

	closeOnce sync.Once
}

// NewManager creates a session manager. Browser acquisition is deferred to
// Initialize.
func NewManager(cfg *config.Config, creds config.Credentials, codes prompt.CodeSource, logger *zap.Logger) *Manager {
	sessionID := uuid.New().String()
	return &Manager{
		cfg:     cfg,
		creds:   creds,
		codes:   codes,
		logger:  logger.Named("session").With(zap.String("session_id", sessionID)),
		id:      sessionID,
		exec:    cdpExecutor{},
		launch:  launchChromium,
		state:   Uninitialized,
		pageSem: semaphore.NewWeighted(1),
		limiter: rate.NewLimiter(rate.Limit(cfg.Provider.FetchRatePerSecond), 1),
	}
}

// ID returns the unique identifier for the session.
func (m *Manager) ID() string {
	return m.id
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Authenticated reports whether the session's page is ready for reuse.
func (m *Manager) Authenticated() bool {
	return m.State() == Authenticated
}

// setState transitions the state machine. Terminal states are sticky; in
// particular Authenticated is never reachable from Failed.
func (m *Manager) setState(next State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.terminal() {
		return
	}
	m.logger.Debug("Session state transition.",
		zap.String("from", m.state.String()),
		zap.String("to", next.String()))
	m.state = next
}

// Initialize acquires the browser and drives the login flow to completion.
// Any failure releases all resources, moves the session to Failed, and
// returns the error; callers treat that as fatal and abort startup.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Uninitialized {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w (state: %s)", ErrAlreadyInitialized, state)
	}
	m.state = LoggingIn
	m.mu.Unlock()

	m.logger.Info("Initializing authenticated browser session.",
		zap.String("entry_url", m.cfg.Provider.EntryURL))

	if err := m.acquireBrowser(ctx); err != nil {
		m.fail(err)
		return err
	}

	if err := m.login(ctx); err != nil {
		m.fail(err)
		return err
	}

	m.setState(Authenticated)
	m.logger.Info("Session authenticated; page ready for reuse.")
	return nil
}

// acquireBrowser launches the headless browser and creates the single tab.
func (m *Manager) acquireBrowser(ctx context.Context) error {
	tabCtx, tabCancel, allocCancel, err := m.launch(ctx, m.cfg.Browser)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.allocCancel = allocCancel
	m.tabCtx = tabCtx
	m.tabCancel = tabCancel
	m.mu.Unlock()

	if len(m.cfg.Browser.Headers) > 0 {
		if err := m.exec.Run(tabCtx, extraHeaderActions(m.cfg.Browser.Headers)...); err != nil {
			return fmt.Errorf("failed to apply extra headers: %w", err)
		}
	}

	m.logger.Debug("Browser launched and tab connected.")
	return nil
}

// login executes the provider login flow: identifier submission, challenge
// detection, and either the direct password branch or the email-code branch.
func (m *Manager) login(ctx context.Context) error {
	provider := m.cfg.Provider

	// 1. Navigate to the entry point and submit the account identifier.
	if err := m.runNav(ctx,
		chromedp.Navigate(provider.EntryURL),
		chromedp.WaitVisible(provider.IdentifierField, chromedp.ByQuery),
		chromedp.SendKeys(provider.IdentifierField, m.creds.Identifier, chromedp.ByQuery),
		chromedp.Click(provider.IdentifierSubmit, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("identifier submission failed: %w", err)
	}

	// 2. Wait for either the password prompt or a challenge marker.
	rules := buildDetectionRules(provider.PasswordField, provider.ChallengeMarkers, provider.UnsupportedMarkers)

	tabCtx := m.tab()
	if tabCtx == nil {
		return ErrNotAuthenticated
	}
	detectCtx, detectCancel := combineContext(tabCtx, ctx)
	defer detectCancel()
	detectCtx, timeoutCancel := context.WithTimeout(detectCtx, m.cfg.Browser.ChallengeWaitTimeout)
	defer timeoutCancel()

	rule, err := m.awaitFirstMarker(detectCtx, rules)
	if err != nil {
		return fmt.Errorf("challenge detection failed: %w", err)
	}

	// 3. Branch on the detected authentication step.
	switch rule.Kind {
	case NoChallenge:
		return m.submitPassword(ctx)
	case EmailCodeChallenge:
		return m.resolveChallenge(ctx, challengeContext{kind: rule.Kind, marker: rule.Marker})
	default:
		return fmt.Errorf("%w: marker %q", ErrUnknownChallenge, rule.Marker)
	}
}

// submitPassword handles the direct branch: type the secret and confirm the
// post-login navigation before the session can report Authenticated.
func (m *Manager) submitPassword(ctx context.Context) error {
	provider := m.cfg.Provider
	m.logger.Info("Password prompt detected; submitting credentials.")

	if err := m.submitNav(ctx,
		chromedp.SendKeys(provider.PasswordField, m.creds.Secret, chromedp.ByQuery),
		chromedp.Click(provider.PasswordSubmit, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("password submission failed: %w", err)
	}
	return nil
}

// resolveChallenge handles the out-of-band branch: select the email-code
// option, block on the human-supplied code, and submit it. The wait for the
// code is unbounded; it happens before the transport layer starts accepting
// requests, so nothing else is blocked on it.
func (m *Manager) resolveChallenge(ctx context.Context, cc challengeContext) error {
	provider := m.cfg.Provider
	m.setState(AwaitingChallenge)
	m.logger.Info("Verification challenge detected.",
		zap.String("kind", cc.kind.String()),
		zap.String("marker", cc.marker))

	// Locate the email-code verification option; its absence is fatal.
	present, err := m.selectorPresent(ctx, provider.EmailOptionSelector)
	if err != nil {
		return fmt.Errorf("failed to probe for verification options: %w", err)
	}
	if !present {
		return ErrVerificationOptionNotFound
	}

	// The code input only exists on the post-transition form, so its
	// visibility is the navigation confirmation here.
	if err := m.runNav(ctx,
		chromedp.Click(provider.EmailOptionSelector, chromedp.ByQuery),
		chromedp.WaitVisible(provider.CodeField, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to reach code entry form: %w", err)
	}

	// Suspend on the human-input bridge. Only ctx cancellation bounds this.
	tabCtx := m.tab()
	if tabCtx == nil {
		return ErrNotAuthenticated
	}
	codeCtx, codeCancel := combineContext(tabCtx, ctx)
	defer codeCancel()
	code, err := m.codes.Code(codeCtx, cc.kind.String())
	if err != nil {
		return fmt.Errorf("failed to obtain verification code: %w", err)
	}

	if err := m.submitNav(ctx,
		chromedp.SendKeys(provider.CodeField, code, chromedp.ByQuery),
		chromedp.Click(provider.CodeSubmit, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("verification code submission failed: %w", err)
	}

	m.logger.Info("Verification challenge resolved.")
	return nil
}

// selectorPresent reports whether the selector currently matches an element.
func (m *Manager) selectorPresent(ctx context.Context, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	tabCtx := m.tab()
	if tabCtx == nil {
		return false, ErrNotAuthenticated
	}
	probeCtx, cancel := combineContext(tabCtx, ctx)
	defer cancel()

	rules := []DetectionRule{{Kind: EmailCodeChallenge, Marker: selector}}
	script, err := markerProbeScript(rules)
	if err != nil {
		return false, err
	}

	var idx int
	if err := m.exec.Evaluate(probeCtx, script, &idx); err != nil {
		return false, err
	}
	return idx == 0, nil
}

// tab returns the live tab context, or nil once resources are released.
func (m *Manager) tab() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tabCtx
}

// runNav executes page actions under both the session lifetime and the
// caller's context, bounded by the configured navigation timeout.
func (m *Manager) runNav(ctx context.Context, actions ...chromedp.Action) error {
	return m.pageOp(ctx, func(opCtx context.Context) error {
		return m.exec.Run(opCtx, actions...)
	})
}

// submitNav is runNav for actions that set off a navigation: it returns only
// after the executor has confirmed the resulting document loaded.
func (m *Manager) submitNav(ctx context.Context, actions ...chromedp.Action) error {
	return m.pageOp(ctx, func(opCtx context.Context) error {
		return m.exec.Submit(opCtx, actions...)
	})
}

func (m *Manager) pageOp(ctx context.Context, op func(context.Context) error) error {
	tabCtx := m.tab()
	if tabCtx == nil {
		return ErrNotAuthenticated
	}
	opCtx, opCancel := combineContext(tabCtx, ctx)
	defer opCancel()

	navTimeout := m.cfg.Browser.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 10 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(opCtx, navTimeout)
	defer navCancel()

	if err := op(navCtx); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out after %s: %w", navTimeout, err)
		}
		if opCtx.Err() != nil {
			return fmt.Errorf("canceled: %w", opCtx.Err())
		}
		return err
	}
	return nil
}

// fail releases all browser resources and parks the session in Failed.
func (m *Manager) fail(err error) {
	m.logger.Error("Session initialization failed; releasing browser resources.", zap.Error(err))
	m.releaseResources()
	m.mu.Lock()
	m.state = Failed
	m.mu.Unlock()
}

// releaseResources tears down the tab and the browser. Safe to call with
// resources never acquired or already released.
func (m *Manager) releaseResources() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tabCancel != nil {
		m.tabCancel()
		m.tabCancel = nil
		m.tabCtx = nil
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
	}
}

// Close releases the page and browser and marks the session Closed. It is
// idempotent: closing twice, or closing a session that never acquired
// resources, is a no-op.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.logger.Info("Closing browser session.")
		m.releaseResources()
		m.mu.Lock()
		if m.state != Failed {
			m.state = Closed
		}
		m.mu.Unlock()
	})
	return nil
}
