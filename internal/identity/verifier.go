// Package identity verifies phone ownership with one-time passcodes and
// yields the authenticated subject used to commit bookings.
package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/internal/notice"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// DefaultResendCooldown blocks repeated code requests for a short window.
const DefaultResendCooldown = 30 * time.Second

var (
	// ErrDispatchRejected is wrapped by gateways when the provider refuses to send a code.
	ErrDispatchRejected = errors.New("identity: otp dispatch rejected")
	// ErrCodeRejected is wrapped by gateways when a submitted code does not match.
	ErrCodeRejected = errors.New("identity: otp code rejected")
	// ErrInFlight is returned while another verification call is outstanding.
	ErrInFlight = errors.New("identity: request already in flight")
	// ErrCooldown is returned when a resend is attempted before the cooldown elapses.
	ErrCooldown = errors.New("identity: resend cooling down")
)

// ChallengeRef identifies one dispatched code. A new request supersedes the previous one.
type ChallengeRef string

// VerifiedIdentity is the outcome of a successful verification.
type VerifiedIdentity struct {
	SubjectID string `json:"subject_id"`
	Phone     string `json:"phone"`
}

// OTPRequest is the gateway response to a dispatch.
type OTPRequest struct {
	SubjectID string
}

// OTPVerification is the gateway response to a code check.
type OTPVerification struct {
	SubjectID string
	Verified  bool
}

// Gateway is the messaging collaborator that sends and checks codes.
type Gateway interface {
	RequestOTP(ctx context.Context, phone string) (OTPRequest, error)
	VerifyOTP(ctx context.Context, phone, code string) (OTPVerification, error)
}

// Status is the OTP state tag.
type Status string

const (
	NotSent  Status = "not_sent"
	Sent     Status = "sent"
	Verified Status = "verified"
	Failed   Status = "failed"
)

// OTPState is NotSent, Sent(challenge), Verified(identity) or Failed(reason).
// A Failed state keeps the last challenge so the user can retry the code.
type OTPState struct {
	Status    Status            `json:"status"`
	Challenge ChallengeRef      `json:"challenge,omitempty"`
	Identity  *VerifiedIdentity `json:"identity,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithCooldown overrides the resend cooldown.
func WithCooldown(d time.Duration) Option {
	return func(v *Verifier) {
		if d >= 0 {
			v.cooldown = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// Verifier drives one booking session's phone verification.
type Verifier struct {
	gateway  Gateway
	cooldown time.Duration
	now      func() time.Time
	logger   *logging.Logger

	mu            sync.Mutex
	state         OTPState
	phone         string
	provisional   string
	inFlight      bool
	cooldownUntil time.Time
}

// NewVerifier builds a verifier in the NotSent state.
func NewVerifier(gateway Gateway, opts ...Option) *Verifier {
	if gateway == nil {
		panic("identity: gateway required")
	}
	v := &Verifier{
		gateway:  gateway,
		cooldown: DefaultResendCooldown,
		now:      time.Now,
		logger:   logging.Default(),
		state:    OTPState{Status: NotSent},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RequestCode dispatches a code to phone. Only one request may be outstanding.
// Repeat requests for the number that received the last code are refused
// inside the cooldown window; a different number is dispatched at once.
func (v *Verifier) RequestCode(ctx context.Context, phone string) (ChallengeRef, error) {
	phone = NormalizeE164(phone)
	if phone == "" {
		return "", notice.New(notice.InvalidPhoneFormat, "Enter a phone number first.")
	}

	v.mu.Lock()
	if v.inFlight {
		v.mu.Unlock()
		return "", ErrInFlight
	}
	if now := v.now(); phone == v.phone && now.Before(v.cooldownUntil) {
		v.mu.Unlock()
		return "", notice.Wrap(notice.OtpDispatchFailed, "Please wait a moment before requesting another code.", ErrCooldown)
	}
	v.inFlight = true
	v.mu.Unlock()

	resp, err := v.gateway.RequestOTP(ctx, phone)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.inFlight = false
	if err != nil {
		reason := "dispatch failed"
		classified := notice.Wrap(notice.NetworkError, "We could not reach the verification service. Please try again.", err)
		if errors.Is(err, ErrDispatchRejected) {
			classified = notice.Wrap(notice.OtpDispatchFailed, "We could not send a code to that number.", err)
			reason = "dispatch rejected"
		}
		v.state = OTPState{Status: Failed, Challenge: v.state.Challenge, Reason: reason}
		v.logger.Warn("otp request failed", "error", err)
		return "", classified
	}

	ref := ChallengeRef(uuid.NewString())
	v.phone = phone
	v.provisional = resp.SubjectID
	v.cooldownUntil = v.now().Add(v.cooldown)
	v.state = OTPState{Status: Sent, Challenge: ref}
	return ref, nil
}

// Resend re-requests a code for the phone number used last.
func (v *Verifier) Resend(ctx context.Context) (ChallengeRef, error) {
	v.mu.Lock()
	phone := v.phone
	v.mu.Unlock()
	if phone == "" {
		return "", notice.New(notice.OtpDispatchFailed, "Request a code before resending.")
	}
	return v.RequestCode(ctx, phone)
}

// SubmitCode checks code against the outstanding challenge. Malformed codes
// are rejected without contacting the gateway.
func (v *Verifier) SubmitCode(ctx context.Context, phone, code string) (VerifiedIdentity, error) {
	if !ValidCode(code) {
		return VerifiedIdentity{}, notice.New(notice.InvalidCode, "Enter the 6-digit code we sent you.")
	}
	phone = NormalizeE164(phone)

	v.mu.Lock()
	if v.inFlight {
		v.mu.Unlock()
		return VerifiedIdentity{}, ErrInFlight
	}
	if v.state.Challenge == "" || (v.state.Status != Sent && v.state.Status != Failed) {
		v.mu.Unlock()
		return VerifiedIdentity{}, notice.New(notice.InvalidCode, "Request a code first.")
	}
	if phone != v.phone {
		v.mu.Unlock()
		return VerifiedIdentity{}, notice.New(notice.InvalidCode, "That code was sent to a different number.")
	}
	v.inFlight = true
	v.mu.Unlock()

	resp, err := v.gateway.VerifyOTP(ctx, phone, code)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.inFlight = false
	if err != nil && !errors.Is(err, ErrCodeRejected) {
		v.logger.Warn("otp verification transport failure", "error", err)
		return VerifiedIdentity{}, notice.Wrap(notice.NetworkError, "We could not reach the verification service. Please try again.", err)
	}
	if err != nil || !resp.Verified {
		v.state = OTPState{Status: Failed, Challenge: v.state.Challenge, Reason: "invalid code"}
		return VerifiedIdentity{}, notice.Wrap(notice.InvalidCode, "That code is not valid. Check it and try again.", err)
	}

	subject := resp.SubjectID
	if subject == "" {
		subject = v.provisional
	}
	id := VerifiedIdentity{SubjectID: subject, Phone: phone}
	v.state = OTPState{Status: Verified, Challenge: v.state.Challenge, Identity: &id}
	return id, nil
}

// State returns a snapshot of the OTP state.
func (v *Verifier) State() OTPState {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := v.state
	if st.Identity != nil {
		id := *st.Identity
		st.Identity = &id
	}
	return st
}

// InFlight reports whether a gateway call is outstanding.
func (v *Verifier) InFlight() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inFlight
}

// CooldownUntil is the earliest time a new code may be requested.
func (v *Verifier) CooldownUntil() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cooldownUntil
}

// CanResend reports whether the resend control should be enabled at now.
func (v *Verifier) CanResend(now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.inFlight && v.phone != "" && !now.Before(v.cooldownUntil)
}

// Phone returns the number the last code was sent to.
func (v *Verifier) Phone() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phone
}
