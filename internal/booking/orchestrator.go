package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking/internal/availability"
	"github.com/wolfman30/clinic-booking/internal/catalog"
	"github.com/wolfman30/clinic-booking/internal/identity"
	"github.com/wolfman30/clinic-booking/internal/notice"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/steps"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var (
	// ErrBusy is returned while a verification or commit call is outstanding.
	ErrBusy = errors.New("booking: a request is already in progress")
	// ErrNotActive is returned before Activate.
	ErrNotActive = errors.New("booking: session not activated")
	// ErrWrongStep is returned when an action does not apply to the current step.
	ErrWrongStep = errors.New("booking: action not available on this step")
	// ErrCompleted is returned once the appointment has been confirmed.
	ErrCompleted = errors.New("booking: appointment already confirmed")
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Availability availability.Source
	Gateway      identity.Gateway
	Appointments AppointmentService
	Sessions     SessionStore
	Publisher    EventPublisher
	Metrics      *metrics.BookingMetrics
	Logger       *logging.Logger

	GranularityMinutes int
	ResendCooldown     time.Duration
	Now                func() time.Time
}

// Orchestrator owns one booking session. Every method is safe for concurrent
// use; network calls run without holding the lock while the busy flag is set.
type Orchestrator struct {
	sessionKey  string
	sessions    SessionStore
	gateway     identity.Gateway
	tracker     *availability.Tracker
	committer   *Committer
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
	granularity int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	session  *Session
	verifier *identity.Verifier
	code     identity.CodeInput
	busy     bool
	message  *notice.Notice
}

// New builds an orchestrator bound to the browser session identified by sessionKey.
func New(sessionKey string, deps Deps) *Orchestrator {
	if deps.Availability == nil {
		panic("booking: availability source required")
	}
	if deps.Gateway == nil {
		panic("booking: otp gateway required")
	}
	if deps.Sessions == nil {
		panic("booking: session store required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	granularity := deps.GranularityMinutes
	if granularity <= 0 {
		granularity = slots.DefaultGranularityMinutes
	}
	cooldown := deps.ResendCooldown
	if cooldown <= 0 {
		cooldown = identity.DefaultResendCooldown
	}
	committer := NewCommitter(deps.Appointments, deps.Publisher, deps.Metrics, logger)
	committer.now = now
	return &Orchestrator{
		sessionKey:  sessionKey,
		sessions:    deps.Sessions,
		gateway:     deps.Gateway,
		tracker:     availability.NewTracker(deps.Availability),
		committer:   committer,
		metrics:     deps.Metrics,
		logger:      logger.With("session_ref", shortKey(sessionKey)),
		granularity: granularity,
		cooldown:    cooldown,
		now:         now,
	}
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// Activate starts a new booking for treatment at branch. Authentication is
// read from the session store; a store failure is treated as signed out.
func (o *Orchestrator) Activate(ctx context.Context, treatment catalog.Treatment, branch catalog.Branch) error {
	if strings.TrimSpace(treatment.ID) == "" || treatment.DurationMinutes <= 0 {
		return fmt.Errorf("booking: treatment with a positive duration required")
	}
	if strings.TrimSpace(branch.ID) == "" {
		return fmt.Errorf("booking: branch required")
	}

	subject, authenticated, err := o.sessions.AuthenticatedSubject(ctx, o.sessionKey)
	if err != nil {
		o.logger.Warn("session store read failed; continuing unauthenticated", "error", err)
		subject, authenticated = "", false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return ErrBusy
	}
	o.tracker.Abandon()

	s := &Session{
		ID:                uuid.NewString(),
		IdempotencyKey:    uuid.NewString(),
		Treatment:         treatment,
		Branch:            branch,
		RequiredSlotCount: slots.RequiredSlots(treatment.DurationMinutes, o.granularity),
		IsAuthenticated:   authenticated,
		SubjectID:         subject,
		Identity:          Identity{OTP: identity.OTPState{Status: identity.NotSent}},
		CurrentStep:       steps.DateTime,
	}
	s.Plan = steps.NewPlan(s.IsAuthenticated, s.PaymentRequired())
	o.session = s
	o.verifier = identity.NewVerifier(o.gateway,
		identity.WithCooldown(o.cooldown),
		identity.WithClock(o.now),
		identity.WithLogger(o.logger),
	)
	o.code.Reset()
	o.message = nil

	o.logger.Info("booking activated",
		"booking_id", s.ID,
		"treatment_id", treatment.ID,
		"branch_id", branch.ID,
		"authenticated", authenticated,
		"required_slots", s.RequiredSlotCount,
		"plan", s.Plan,
	)
	return nil
}

// SelectDate loads the slots for date. A lookup overtaken by a newer date
// returns availability.ErrStale and changes nothing. A date without slots
// yields an empty list.
func (o *Orchestrator) SelectDate(ctx context.Context, date string) ([]slots.TimeSlot, error) {
	if _, err := time.Parse(availability.DateLayout, date); err != nil {
		return nil, o.failUnlocked(notice.Wrap(notice.SlotConflict, "Choose a valid date.", err))
	}

	o.mu.Lock()
	s, err := o.editable(steps.DateTime)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	q := availability.Query{TreatmentID: s.Treatment.ID, Date: date, BranchID: s.Branch.ID}
	o.mu.Unlock()

	result, err := o.tracker.Fetch(ctx, q)

	o.mu.Lock()
	defer o.mu.Unlock()
	if errors.Is(err, availability.ErrStale) {
		return nil, err
	}
	if o.session != s || o.busy || s.CurrentStep != steps.DateTime || s.Confirmation != nil {
		return nil, availability.ErrStale
	}
	if errors.Is(err, availability.ErrUnavailable) {
		result, err = nil, nil
	}
	if err != nil {
		return nil, o.fail(notice.Wrap(notice.NetworkError, "We could not load available times. Please try again.", err))
	}

	if s.Date != date {
		s.SelectedTime = ""
	}
	s.Date = date
	s.Slots = append([]slots.TimeSlot(nil), result...)
	if s.SelectedTime != "" && !slots.IsSelectable(s.Slots, s.SelectedTime, s.RequiredSlotCount, o.granularity).OK {
		s.SelectedTime = ""
	}
	return append([]slots.TimeSlot(nil), s.Slots...), nil
}

// ChooseSlot selects a start time on the loaded date and returns the slot
// indices the appointment covers. On failure the selection is unchanged.
func (o *Orchestrator) ChooseSlot(date, start string) ([]int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, err := o.editable(steps.DateTime)
	if err != nil {
		return nil, err
	}
	if s.Date == "" || date != s.Date {
		return nil, o.fail(notice.New(notice.SlotConflict, "Load the available times for this date first."))
	}
	check := slots.IsSelectable(s.Slots, start, s.RequiredSlotCount, o.granularity)
	if !check.OK {
		o.logger.Debug("slot rejected", "booking_id", s.ID, "time", start, "reason", check.Reason, "detail", check.Detail)
		return nil, o.fail(notice.New(notice.SlotConflict,
			fmt.Sprintf("Not enough consecutive time is free at %s for this treatment. Please choose another time.", start)))
	}
	s.SelectedTime = start
	return slots.RangeOf(s.Slots, start, s.RequiredSlotCount), nil
}

// SetPhone records the phone number to verify.
func (o *Orchestrator) SetPhone(countryCode, number string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, err := o.active()
	if err != nil {
		return err
	}
	s.Identity.PhoneCountryCode = strings.TrimSpace(countryCode)
	s.Identity.PhoneNumber = strings.TrimSpace(number)
	return nil
}

// SetPaymentDetails records card details for the payment step.
func (o *Orchestrator) SetPaymentDetails(details payments.Details) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, err := o.active()
	if err != nil {
		return err
	}
	s.Payment = &details
	return nil
}

// EnterCodeCell types value into one passcode cell.
func (o *Orchestrator) EnterCodeCell(index int, value string) error {
	return o.withCode(func(c *identity.CodeInput) error { return c.Type(index, value) })
}

// BackspaceCodeCell applies a backspace at index.
func (o *Orchestrator) BackspaceCodeCell(index int) error {
	return o.withCode(func(c *identity.CodeInput) error { return c.Backspace(index) })
}

// PasteCode fills every passcode cell at once.
func (o *Orchestrator) PasteCode(value string) error {
	return o.withCode(func(c *identity.CodeInput) error { return c.Paste(value) })
}

func (o *Orchestrator) withCode(fn func(*identity.CodeInput) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.active(); err != nil {
		return err
	}
	if o.busy {
		return ErrBusy
	}
	return fn(&o.code)
}

// Advance proceeds from the current step. When the next step is the
// confirmation the appointment is committed first. On failure the current
// step is unchanged and the classified error is returned.
func (o *Orchestrator) Advance(ctx context.Context) (steps.Step, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, err := o.active()
	if err != nil {
		return "", err
	}
	if o.busy {
		return s.CurrentStep, ErrBusy
	}

	ctx, span := bookingTracer.Start(ctx, "booking.advance")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", s.ID),
		attribute.String("booking.step", string(s.CurrentStep)),
	)

	switch s.CurrentStep {
	case steps.DateTime:
		err = o.advanceFromDateTime(ctx, s)
	case steps.Phone:
		err = o.advanceFromPhone(ctx, s)
	case steps.OtpVerify:
		err = o.advanceFromOtp(ctx, s)
	case steps.Payment:
		err = o.advanceFromPayment(ctx, s)
	case steps.Confirmation:
		return s.CurrentStep, nil
	default:
		err = fmt.Errorf("booking: unknown step %q", s.CurrentStep)
	}
	if err != nil {
		span.RecordError(err)
	}
	return s.CurrentStep, err
}

func (o *Orchestrator) advanceFromDateTime(ctx context.Context, s *Session) error {
	if s.Date == "" || s.SelectedTime == "" {
		return o.fail(notice.New(notice.SlotConflict, "Choose an available time to continue."))
	}
	return o.forward(ctx, s)
}

func (o *Orchestrator) advanceFromPhone(ctx context.Context, s *Session) error {
	if s.IsAuthenticated {
		return o.forward(ctx, s)
	}
	phone, err := identity.FullPhoneNumber(s.Identity.PhoneCountryCode, s.Identity.PhoneNumber)
	if err != nil {
		return o.fail(err)
	}
	st := o.verifier.State()
	if st.Challenge != "" && st.Status != identity.Verified && o.verifier.Phone() == phone {
		// A code is already out for this number.
		return o.forward(ctx, s)
	}

	var reqErr error
	o.call(func() { _, reqErr = o.verifier.RequestCode(ctx, phone) })
	s.Identity.OTP = o.verifier.State()
	if reqErr != nil {
		o.metrics.ObserveOTP("request", "failed")
		return o.fail(reqErr)
	}
	o.metrics.ObserveOTP("request", "sent")
	o.code.Reset()
	return o.forward(ctx, s)
}

func (o *Orchestrator) advanceFromOtp(ctx context.Context, s *Session) error {
	if s.IsAuthenticated {
		return o.forward(ctx, s)
	}
	code, ok := o.code.Code()
	if !ok {
		return o.fail(notice.New(notice.InvalidCode, "Enter the 6-digit code we sent you."))
	}
	phone := o.verifier.Phone()

	var (
		verified  identity.VerifiedIdentity
		verifyErr error
	)
	o.call(func() { verified, verifyErr = o.verifier.SubmitCode(ctx, phone, code) })
	s.Identity.OTP = o.verifier.State()
	if verifyErr != nil {
		o.metrics.ObserveOTP("verify", string(notice.KindOf(verifyErr)))
		return o.fail(verifyErr)
	}
	o.metrics.ObserveOTP("verify", "verified")

	s.IsAuthenticated = true
	s.SubjectID = verified.SubjectID
	var storeErr error
	o.call(func() { storeErr = o.sessions.SetAuthenticatedSubject(ctx, o.sessionKey, verified.SubjectID) })
	if storeErr != nil {
		o.logger.Warn("failed to persist authenticated subject", "booking_id", s.ID, "error", storeErr)
	}
	s.Plan = steps.Rebase(s.Plan, steps.OtpVerify, steps.NewPlan(true, s.PaymentRequired()))
	o.logger.Info("phone verified", "booking_id", s.ID, "subject_id", verified.SubjectID, "plan", s.Plan)
	return o.forward(ctx, s)
}

func (o *Orchestrator) advanceFromPayment(ctx context.Context, s *Session) error {
	if s.Payment == nil {
		return o.fail(notice.New(notice.PaymentFieldMissing, "Please enter your payment details."))
	}
	if err := s.Payment.Validate(); err != nil {
		return o.fail(err)
	}
	return o.forward(ctx, s)
}

// forward moves to the next step, committing first when that step is the
// confirmation.
func (o *Orchestrator) forward(ctx context.Context, s *Session) error {
	next, ok := s.Plan.Next(s.CurrentStep)
	if !ok {
		return fmt.Errorf("booking: no step after %q", s.CurrentStep)
	}
	if next != steps.Confirmation {
		o.moveTo(s, next)
		return nil
	}
	if s.Confirmation == nil {
		s.prepareCommit()
		snapshot := s.clone()
		var (
			conf      *Confirmation
			commitErr error
		)
		o.call(func() { conf, commitErr = o.committer.Commit(ctx, snapshot) })
		if commitErr != nil {
			return o.fail(commitErr)
		}
		s.Confirmation = conf
	}
	o.moveTo(s, steps.Confirmation)
	return nil
}

// Retreat moves to the previous step. Nothing precedes DateTime, and a
// confirmed booking cannot be reopened.
func (o *Orchestrator) Retreat() (steps.Step, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, err := o.active()
	if err != nil {
		return "", err
	}
	if o.busy {
		return s.CurrentStep, ErrBusy
	}
	if s.Confirmation != nil {
		return s.CurrentStep, ErrCompleted
	}
	prev, ok := s.Plan.Previous(s.CurrentStep)
	if !ok {
		return s.CurrentStep, nil
	}
	o.moveTo(s, prev)
	return prev, nil
}

// Resend requests a fresh passcode. It returns a confirmation toast on success.
func (o *Orchestrator) Resend(ctx context.Context) (*notice.Notice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, err := o.active()
	if err != nil {
		return nil, err
	}
	if o.busy {
		return nil, ErrBusy
	}
	if s.CurrentStep != steps.OtpVerify || s.IsAuthenticated {
		return nil, ErrWrongStep
	}

	var resendErr error
	o.call(func() { _, resendErr = o.verifier.Resend(ctx) })
	s.Identity.OTP = o.verifier.State()
	if resendErr != nil {
		o.metrics.ObserveOTP("resend", "failed")
		return nil, o.fail(resendErr)
	}
	o.metrics.ObserveOTP("resend", "sent")
	o.code.Reset()
	o.message = nil
	return notice.Info("A new code is on its way."), nil
}

// Busy reports whether a verification or commit call is outstanding.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Session returns a copy of the current session, or nil before Activate.
func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	return o.session.clone()
}

// Close abandons any outstanding slot lookup.
func (o *Orchestrator) Close() {
	o.tracker.Abandon()
}

func (o *Orchestrator) active() (*Session, error) {
	if o.session == nil {
		return nil, ErrNotActive
	}
	return o.session, nil
}

// editable returns the session when slot selection is allowed on step.
func (o *Orchestrator) editable(step steps.Step) (*Session, error) {
	s, err := o.active()
	if err != nil {
		return nil, err
	}
	switch {
	case s.Confirmation != nil:
		return nil, ErrCompleted
	case o.busy:
		return nil, ErrBusy
	case s.CurrentStep != step:
		return nil, ErrWrongStep
	}
	return s, nil
}

// call runs fn with the busy flag raised and the lock released. The lock is
// held again when call returns.
func (o *Orchestrator) call(fn func()) {
	o.busy = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.busy = false
	}()
	fn()
}

func (o *Orchestrator) moveTo(s *Session, step steps.Step) {
	if s.CurrentStep == step {
		return
	}
	o.metrics.ObserveStep(string(s.CurrentStep), string(step))
	o.logger.Debug("booking step changed", "booking_id", s.ID, "from", s.CurrentStep, "to", step)
	s.CurrentStep = step
	o.message = nil
}

// fail records err and keeps blocking errors as the persistent message.
func (o *Orchestrator) fail(err error) error {
	kind := notice.KindOf(err)
	o.metrics.ObserveFailure(string(kind))
	if notice.DisplayFor(kind) == notice.Inline {
		o.message = notice.From(err)
	}
	return err
}

func (o *Orchestrator) failUnlocked(err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fail(err)
}
