package bootstrap

import (
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-booking/internal/config"
	"github.com/wolfman30/clinic-booking/internal/otp"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// BuildOTPGateway selects the SMS sender and wraps it in the Redis-backed
// passcode gateway. It returns the chosen provider and, when the configured
// provider could not be used, the reason.
func BuildOTPGateway(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (*otp.Gateway, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	senderCfg := otp.SenderConfig{
		Provider:         cfg.SMSProvider,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFromNumber: cfg.TwilioFromNumber,
	}
	sender, provider, reason := otp.BuildSender(senderCfg, logger)
	if reason != "" && cfg.IsProduction() {
		logger.Error("sms provider fallback in production", "provider", provider, "reason", reason)
	}
	return otp.NewGateway(redisClient, sender, cfg.OTPTTL, cfg.OTPMaxAttempts, logger), provider, reason
}
