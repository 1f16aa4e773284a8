package domain

// Verdict is the outcome of evaluating an inbound action against quotas and
// feature gates. Denials are expected, frequent, non-error outcomes: they
// are represented as values, never as errors, keeping the hot path
// exception-free.
type Verdict struct {
	Allow  bool
	Code   string // domain error code for denied verdicts (ERATELIMIT, EPAYMENT, ...)
	Reason string // user-facing denial reason; empty on allow
}

// Allowed returns an allow verdict.
func Allowed() Verdict {
	return Verdict{Allow: true}
}

// Denied returns a deny verdict with the given code and user-facing reason.
func Denied(code, reason string) Verdict {
	return Verdict{Allow: false, Code: code, Reason: reason}
}
