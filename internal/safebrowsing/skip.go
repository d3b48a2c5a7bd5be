package safebrowsing

import (
	"net/url"

	"go.uber.org/zap"

	"github.com/selimozcann/RedirectGuard/internal/logging"
)

// SkipChecker computes once per chain whether checks are skipped. The answer
// for the original URL governs every redirect of the chain.
type SkipChecker struct {
	policy    PolicyDelegate
	log       *zap.Logger
	evaluated bool
	skip      bool
}

// NewSkipChecker returns an evaluator backed by policy. A nil policy makes
// every chain skip.
func NewSkipChecker(policy PolicyDelegate, log *zap.Logger) *SkipChecker {
	return &SkipChecker{policy: policy, log: logging.OrNop(log)}
}

// EvaluateOriginal decides for the original URL and memoizes the answer.
func (s *SkipChecker) EvaluateOriginal(u *url.URL, originatedFromServiceWorker bool) bool {
	if s.evaluated {
		s.log.DPanic("skip decision evaluated twice", zap.Stringer("url", u))
		return s.skip
	}
	s.evaluated = true
	if s.policy == nil {
		s.log.Warn("no skip policy available, skipping checks", zap.Stringer("url", u))
		s.skip = true
		return true
	}
	s.skip = s.policy.ShouldSkipRequestCheck(u, originatedFromServiceWorker)
	return s.skip
}

// EvaluateRedirect returns the memoized decision.
func (s *SkipChecker) EvaluateRedirect() bool {
	if !s.evaluated {
		s.log.DPanic("redirect skip decision requested before original")
		return false
	}
	return s.skip
}

// Evaluated reports whether EvaluateOriginal has run.
func (s *SkipChecker) Evaluated() bool { return s.evaluated }
