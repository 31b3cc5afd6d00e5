package domain

import "time"

// VoPMatch is the payee verification result tier reported by the bank.
type VoPMatch string

const (
	VoPMatchExact         VoPMatch = "match"
	VoPMatchClose         VoPMatch = "close_match"
	VoPMatchNone          VoPMatch = "no_match"
	VoPMatchNotApplicable VoPMatch = "not_applicable"
)

// TANMethod is one TAN procedure offered by the bank.
type TANMethod struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Decoupled bool   `json:"decoupled"`
}

// CapabilitySnapshot is what the bank declared for the current session.
// It is fetched per session and never persisted.
type CapabilitySnapshot struct {
	TANMethods         []TANMethod   `json:"tan_methods"`
	VoPSupported       bool          `json:"vop_supported"`
	DecoupledSupported bool          `json:"decoupled_supported"`
	MinPollInterval    time.Duration `json:"min_poll_interval,omitempty"`
	MaxPollInterval    time.Duration `json:"max_poll_interval,omitempty"`
	SupportedOps       []string      `json:"supported_operations,omitempty"`
	// Conservative is set when discovery failed and defaults were substituted.
	Conservative bool `json:"conservative"`
}

// ConservativeCapabilities is used when discovery fails. Transfers then need
// a manual send confirmation even under --yes or --auto, payee verification is
// never accepted automatically and poll parameters fall back to the defaults.
func ConservativeCapabilities() CapabilitySnapshot {
	return CapabilitySnapshot{Conservative: true}
}

// AllowsAutoVoP reports whether automatic payee-verification acceptance is permitted at all.
func (c CapabilitySnapshot) AllowsAutoVoP() bool {
	return !c.Conservative
}

// ClampPollInterval bounds the requested interval by the bank's disclosed range
// and by the configured floor, which always wins.
func (c CapabilitySnapshot) ClampPollInterval(requested, floor time.Duration) time.Duration {
	interval := requested
	if c.MinPollInterval > 0 && interval < c.MinPollInterval {
		interval = c.MinPollInterval
	}
	if c.MaxPollInterval > 0 && interval > c.MaxPollInterval {
		interval = c.MaxPollInterval
	}
	if interval < floor {
		interval = floor
	}
	return interval
}
