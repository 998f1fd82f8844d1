// Package types provides shared types for the flowreach service.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Environment is the full per-request context that determines which edges of
// the flow graph are traversable. Analyses performed under equal environments
// share cached results.
type Environment struct {
	Platform          string         `json:"platform"`
	AppVersion        string         `json:"app_version"`
	SubscriptionTier  string         `json:"subscription_tier"`
	AccountAgeDays    int            `json:"account_age_days"`
	LastFeedbackScore int            `json:"last_feedback_score"`
	DailyActivity     map[string]int `json:"daily_activity,omitempty"`
}

// Fingerprint is an opaque, fixed-length identifier derived from an
// Environment. Equal fingerprints denote cache-shareable environments.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Fingerprint derives the cache partition key for the environment:
// SHA-256 over a canonical serialization with a fixed field order and
// activity keys sorted. Pure and deterministic.
func (e Environment) Fingerprint() Fingerprint {
	var b strings.Builder
	b.WriteString("platform=")
	b.WriteString(e.Platform)
	b.WriteString(";app_version=")
	b.WriteString(e.AppVersion)
	b.WriteString(";subscription_tier=")
	b.WriteString(e.SubscriptionTier)
	fmt.Fprintf(&b, ";account_age_days=%d", e.AccountAgeDays)
	fmt.Fprintf(&b, ";last_feedback_score=%d", e.LastFeedbackScore)
	b.WriteString(";daily_activity=")
	keys := make([]string, 0, len(e.DailyActivity))
	for k := range e.DailyActivity {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s:%d,", k, e.DailyActivity[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return Fingerprint(hex.EncodeToString(sum[:]))
}
