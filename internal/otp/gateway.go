// Package otp sends and checks one-time passcodes for phone verification.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/wolfman30/clinic-booking/internal/identity"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 5
)

var otpTracer = otel.Tracer("clinic.internal.otp")

// subjectNamespace scopes subject ids derived from phone numbers.
var subjectNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://clinic-booking/subjects"))

// SubjectID is the stable subject identifier for an E.164 phone number.
func SubjectID(phone string) string {
	return uuid.NewSHA1(subjectNamespace, []byte(phone)).String()
}

// Gateway implements identity.Gateway with codes hashed in Redis and
// delivered by SMS.
type Gateway struct {
	redis       *redis.Client
	sender      Sender
	ttl         time.Duration
	maxAttempts int
	cost        int
	generate    func() (string, error)
	logger      *logging.Logger
}

// NewGateway builds a gateway. Non-positive ttl or maxAttempts use the defaults.
func NewGateway(redisClient *redis.Client, sender Sender, ttl time.Duration, maxAttempts int, logger *logging.Logger) *Gateway {
	if redisClient == nil {
		panic("otp: redis client required")
	}
	if sender == nil {
		panic("otp: sender required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gateway{
		redis:       redisClient,
		sender:      sender,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		cost:        bcrypt.DefaultCost,
		generate:    generateCode,
		logger:      logger,
	}
}

var _ identity.Gateway = (*Gateway)(nil)

func challengeKey(phone string) string { return fmt.Sprintf("otp:challenge:%s", phone) }

// RequestOTP replaces any outstanding challenge for phone and texts a new code.
func (g *Gateway) RequestOTP(ctx context.Context, phone string) (identity.OTPRequest, error) {
	ctx, span := otpTracer.Start(ctx, "otp.request")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.to", maskPhone(phone)))

	if phone == "" {
		return identity.OTPRequest{}, fmt.Errorf("otp: phone required: %w", identity.ErrDispatchRejected)
	}
	code, err := g.generate()
	if err != nil {
		return identity.OTPRequest{}, fmt.Errorf("otp: generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), g.cost)
	if err != nil {
		return identity.OTPRequest{}, fmt.Errorf("otp: hash code: %w", err)
	}
	subject := SubjectID(phone)

	key := challengeKey(phone)
	_, err = g.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "hash", string(hash), "subject_id", subject, "attempts", 0)
		pipe.Expire(ctx, key, g.ttl)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return identity.OTPRequest{}, fmt.Errorf("otp: store challenge: %w", err)
	}

	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(g.ttl.Minutes()))
	if err := g.sender.SendSMS(ctx, phone, body); err != nil {
		span.RecordError(err)
		if delErr := g.redis.Del(ctx, key).Err(); delErr != nil {
			g.logger.Warn("failed to clear unsent otp challenge", "error", delErr)
		}
		if errors.Is(err, ErrPermanent) {
			return identity.OTPRequest{}, fmt.Errorf("otp: send: %w: %v", identity.ErrDispatchRejected, err)
		}
		return identity.OTPRequest{}, fmt.Errorf("otp: send: %w", err)
	}
	g.logger.Info("otp dispatched", "to", maskPhone(phone))
	return identity.OTPRequest{SubjectID: subject}, nil
}

// VerifyOTP checks code against the outstanding challenge. Expired, exhausted
// or mismatched challenges wrap identity.ErrCodeRejected.
func (g *Gateway) VerifyOTP(ctx context.Context, phone, code string) (identity.OTPVerification, error) {
	ctx, span := otpTracer.Start(ctx, "otp.verify")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.to", maskPhone(phone)))

	key := challengeKey(phone)
	fields, err := g.redis.HGetAll(ctx, key).Result()
	if err != nil {
		span.RecordError(err)
		return identity.OTPVerification{}, fmt.Errorf("otp: load challenge: %w", err)
	}
	if len(fields) == 0 || fields["hash"] == "" {
		return identity.OTPVerification{}, fmt.Errorf("otp: no active challenge: %w", identity.ErrCodeRejected)
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	if attempts >= g.maxAttempts {
		_ = g.redis.Del(ctx, key).Err()
		return identity.OTPVerification{}, fmt.Errorf("otp: too many attempts: %w", identity.ErrCodeRejected)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(fields["hash"]), []byte(code)); err != nil {
		n, incErr := g.redis.HIncrBy(ctx, key, "attempts", 1).Result()
		if incErr != nil {
			g.logger.Warn("failed to record otp attempt", "error", incErr)
		} else if int(n) >= g.maxAttempts {
			_ = g.redis.Del(ctx, key).Err()
		}
		return identity.OTPVerification{}, fmt.Errorf("otp: code mismatch: %w", identity.ErrCodeRejected)
	}

	if err := g.redis.Del(ctx, key).Err(); err != nil {
		g.logger.Warn("failed to clear verified otp challenge", "error", err)
	}
	subject := fields["subject_id"]
	if subject == "" {
		subject = SubjectID(phone)
	}
	return identity.OTPVerification{SubjectID: subject, Verified: true}, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
