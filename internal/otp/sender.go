package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

const (
	// ProviderLog writes codes to the log instead of sending them.
	ProviderLog = "log"
	// ProviderTwilio sends codes through Twilio's REST API.
	ProviderTwilio = "twilio"
)

// ErrPermanent marks a send failure that retrying will not fix, such as an
// invalid destination number.
var ErrPermanent = errors.New("otp: permanent send failure")

var twilioSendTracer = otel.Tracer("clinic.internal.otp.twilio_send")

// Sender delivers a text message.
type Sender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	sleep      func(time.Duration)
	logger     *logging.Logger
}

// NewTwilioSender builds a sender with sane defaults.
func NewTwilioSender(accountSID, authToken, from string, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    "https://api.twilio.com",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		sleep:  time.Sleep,
		logger: logger,
	}
}

// SendSMS dispatches a single SMS, retrying transient failures.
func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	if s.accountSID == "" || s.authToken == "" {
		return errors.New("otp: twilio credentials missing")
	}
	if to == "" {
		return fmt.Errorf("otp: to required: %w", ErrPermanent)
	}
	if s.from == "" {
		return errors.New("otp: from required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("otp: body required")
	}

	ctx, span := twilioSendTracer.Start(ctx, "otp.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.to", maskPhone(to)))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", s.from)
	payload.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				s.logger.Info("twilio otp sms sent", "to", maskPhone(to))
				return nil
			}
			lastErr = fmt.Errorf("twilio send failed: %s", formatTwilioError(resp.StatusCode, respBody))
			// Don't retry non-rate-limit 4xx errors.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				lastErr = fmt.Errorf("%w: %v", ErrPermanent, lastErr)
				break
			}
		}

		if attempt < 3 {
			s.sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	span.RecordError(lastErr)
	return lastErr
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}

// LogSender writes messages to the logger. Development only.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender builds a LogSender.
func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("otp sms (not sent)", "to", maskPhone(to), "body", body)
	return nil
}

// SenderConfig captures the credentials required to build a Sender.
type SenderConfig struct {
	Provider         string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// BuildSender picks the sender for the configured provider. It falls back to
// the log sender, returning a reason, when Twilio credentials are missing.
func BuildSender(cfg SenderConfig, logger *logging.Logger) (Sender, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case ProviderTwilio:
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
			return NewLogSender(logger), ProviderLog, "twilio credentials incomplete"
		}
		return NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger), ProviderTwilio, ""
	case "", ProviderLog:
		return NewLogSender(logger), ProviderLog, ""
	default:
		return NewLogSender(logger), ProviderLog, fmt.Sprintf("unknown sms provider %q", provider)
	}
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
