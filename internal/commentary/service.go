// Package commentary produces the human-readable insights and coaching answers
// attached to an analysis. A generative-language collaborator is used when
// configured; every failure degrades to deterministic templates.
package commentary

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Completer sends one prompt to a generative-language model
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Outcomes reported to the Observer
const (
	OutcomeGenerated    = "generated"
	OutcomeCached       = "cached"
	OutcomeNoCredential = "no_credential"
	OutcomeRateLimited  = "rate_limited"
	OutcomeUpstreamErr  = "upstream_error"
	OutcomeParseErr     = "parse_error"
)

// Request kinds reported to the Observer
const (
	KindInsights = "insights"
	KindCoach    = "coach"
)

// Observer is told how each commentary request was served
type Observer func(kind, outcome string)

// Options configures a Service
type Options struct {
	InsightsTimeout time.Duration
	CoachTimeout    time.Duration

	// Networks are the chain names mentioned in coaching prompts
	Networks []string

	Observer Observer
}

// Service builds insights and coaching answers. A nil Completer means no
// credential is configured and only templates are used.
type Service struct {
	completer Completer
	insights  *Gate
	coach     *Gate
	opts      Options
}

// NewService creates a Service. The gates are owned by the caller so tests
// and processes decide their lifetime; nil gates get defaults.
func NewService(completer Completer, insightsGate, coachGate *Gate, opts Options) *Service {
	if insightsGate == nil {
		insightsGate = NewGate(DefaultGateOptions())
	}
	if coachGate == nil {
		coachGate = NewGate(DefaultGateOptions())
	}
	if opts.InsightsTimeout <= 0 {
		opts.InsightsTimeout = 10 * time.Second
	}
	if opts.CoachTimeout <= 0 {
		opts.CoachTimeout = 15 * time.Second
	}
	return &Service{
		completer: completer,
		insights:  insightsGate,
		coach:     coachGate,
		opts:      opts,
	}
}

// Enabled reports whether a generative collaborator is configured
func (s *Service) Enabled() bool {
	return s.completer != nil
}

// CacheSizes reports how many commentaries each gate currently holds
func (s *Service) CacheSizes() map[string]int {
	return map[string]int{
		KindInsights: s.insights.Len(),
		KindCoach:    s.coach.Len(),
	}
}

func (s *Service) observe(kind, outcome string) {
	if s.opts.Observer != nil {
		s.opts.Observer(kind, outcome)
	}
}

// generate runs one bounded completion and reports the outcome on failure
func (s *Service) generate(ctx context.Context, kind, prompt string, timeout time.Duration) (string, bool) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := s.completer.Complete(callCtx, prompt)
	if err != nil {
		logrus.WithFields(logrus.Fields{"kind": kind, "error": err}).Warn("Generative call failed, using templated commentary")
		s.observe(kind, OutcomeUpstreamErr)
		return "", false
	}
	return text, true
}
