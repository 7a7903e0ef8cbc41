// File: internal/session/challenge.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ChallengeKind classifies the authentication step the provider is showing.
type ChallengeKind int

const (
	// NoChallenge means the ordinary password prompt appeared.
	NoChallenge ChallengeKind = iota
	// EmailCodeChallenge means the provider is demanding an out-of-band
	// verification code deliverable by email.
	EmailCodeChallenge
	// UnknownChallenge means a marker matched that the detection table cannot
	// map to a handler. The login fails closed rather than guessing.
	UnknownChallenge
)

// String returns the challenge kind name used in logs and prompts.
func (k ChallengeKind) String() string {
	switch k {
	case NoChallenge:
		return "none"
	case EmailCodeChallenge:
		return "email_code"
	default:
		return "unknown"
	}
}

// DetectionRule maps a DOM marker to the challenge kind it indicates. The
// rules form a declarative table built from ProviderConfig, so shifting
// provider markup is a configuration change rather than a code change.
type DetectionRule struct {
	Kind   ChallengeKind
	Marker string
}

// challengeContext is the ephemeral record of a detected challenge. It exists
// only while the session is AwaitingChallenge and is discarded once the
// challenge resolves.
type challengeContext struct {
	kind   ChallengeKind
	marker string
}

// buildDetectionRules assembles the ordered detection table: the password
// field first (its presence means no challenge is in progress), then every
// configured challenge marker, then the markers of challenge variants the
// gateway cannot resolve (captchas, authenticator apps). The last group maps
// to UnknownChallenge so login fails closed instead of hanging until the
// detection deadline.
func buildDetectionRules(passwordField string, challengeMarkers, unsupportedMarkers []string) []DetectionRule {
	rules := make([]DetectionRule, 0, 1+len(challengeMarkers)+len(unsupportedMarkers))
	if passwordField != "" {
		rules = append(rules, DetectionRule{Kind: NoChallenge, Marker: passwordField})
	}
	for _, marker := range challengeMarkers {
		if marker == "" {
			continue
		}
		rules = append(rules, DetectionRule{Kind: EmailCodeChallenge, Marker: marker})
	}
	for _, marker := range unsupportedMarkers {
		if marker == "" {
			continue
		}
		rules = append(rules, DetectionRule{Kind: UnknownChallenge, Marker: marker})
	}
	return rules
}

// markerProbeScript builds a JS expression returning the index of the first
// rule whose marker currently matches an element, or -1 if none match.
func markerProbeScript(rules []DetectionRule) (string, error) {
	selectors := make([]string, len(rules))
	for i, rule := range rules {
		selectors[i] = rule.Marker
	}
	payload, err := json.Marshal(selectors)
	if err != nil {
		return "", fmt.Errorf("failed to encode marker selectors: %w", err)
	}
	script := fmt.Sprintf(
		`(function(sels){for(let i=0;i<sels.length;i++){try{if(document.querySelector(sels[i]))return i;}catch(e){}}return -1;})(%s)`,
		payload,
	)
	return script, nil
}

// markerPollInterval is how often the page is probed while waiting for one of
// the detection-table markers to appear.
const markerPollInterval = 250 * time.Millisecond

// awaitFirstMarker polls the page until one of the rules' markers appears and
// returns the matching rule. It gives up when ctx expires, which is how a
// login stuck on an unrecognized provider screen surfaces as a fatal error.
func (m *Manager) awaitFirstMarker(ctx context.Context, rules []DetectionRule) (DetectionRule, error) {
	if len(rules) == 0 {
		return DetectionRule{}, fmt.Errorf("detection table is empty")
	}

	script, err := markerProbeScript(rules)
	if err != nil {
		return DetectionRule{}, err
	}

	ticker := time.NewTicker(markerPollInterval)
	defer ticker.Stop()

	for {
		idx := -1
		if err := m.exec.Evaluate(ctx, script, &idx); err != nil {
			if ctx.Err() != nil {
				return DetectionRule{}, fmt.Errorf("timed out waiting for a login marker: %w", ctx.Err())
			}
			// The poll races the cross-document navigation the identifier
			// submit set off; an evaluate against a dying execution context
			// fails transiently. Keep polling and let the deadline decide.
			m.logger.Debug("Marker probe failed; retrying.", zap.Error(err))
			idx = -1
		}
		if idx >= 0 && idx < len(rules) {
			return rules[idx], nil
		}

		select {
		case <-ctx.Done():
			return DetectionRule{}, fmt.Errorf("timed out waiting for a login marker: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
