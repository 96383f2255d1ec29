// Package steps computes the ordered booking step plan from authentication
// and payment requirements.
package steps

// Step names one screen of the booking flow.
type Step string

const (
	DateTime     Step = "date_time"
	Phone        Step = "phone"
	OtpVerify    Step = "otp_verify"
	Payment      Step = "payment"
	Confirmation Step = "confirmation"
)

// Plan is an ordered, immutable list of steps.
type Plan []Step

// NewPlan builds the plan for the given inputs. There are exactly four outcomes:
//
//	authenticated, no payment:     DateTime, Confirmation
//	authenticated, payment:        DateTime, Payment, Confirmation
//	unauthenticated, no payment:   DateTime, Phone, OtpVerify, Confirmation
//	unauthenticated, payment:      DateTime, Phone, OtpVerify, Payment, Confirmation
func NewPlan(isAuthenticated, paymentRequired bool) Plan {
	plan := Plan{DateTime}
	if !isAuthenticated {
		plan = append(plan, Phone, OtpVerify)
	}
	if paymentRequired {
		plan = append(plan, Payment)
	}
	return append(plan, Confirmation)
}

// IndexOf returns the position of step in the plan, or -1.
func (p Plan) IndexOf(step Step) int {
	for i, s := range p {
		if s == step {
			return i
		}
	}
	return -1
}

// Contains reports whether the plan visits step.
func (p Plan) Contains(step Step) bool {
	return p.IndexOf(step) >= 0
}

// Next returns the step after cur. It returns false at the end of the plan or
// when cur is not part of it.
func (p Plan) Next(cur Step) (Step, bool) {
	i := p.IndexOf(cur)
	if i < 0 || i+1 >= len(p) {
		return "", false
	}
	return p[i+1], true
}

// Previous returns the step before cur. There is nothing before DateTime.
func (p Plan) Previous(cur Step) (Step, bool) {
	i := p.IndexOf(cur)
	if i <= 0 {
		return "", false
	}
	return p[i-1], true
}

// ConfirmationIndex identifies the terminal step for progress indicators.
func (p Plan) ConfirmationIndex() int {
	return p.IndexOf(Confirmation)
}

// Clone returns a copy safe to hand to readers.
func (p Plan) Clone() Plan {
	out := make(Plan, len(p))
	copy(out, p)
	return out
}

// Rebase recomputes the plan after its inputs change mid-flow. Steps already
// reached in the old plan are kept in place and only the remainder is taken
// from next, so completed steps are never replayed.
func Rebase(old Plan, cur Step, next Plan) Plan {
	i := old.IndexOf(cur)
	if i < 0 {
		return next.Clone()
	}
	out := old[:i+1].Clone()
	for _, s := range next {
		if !out.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}
