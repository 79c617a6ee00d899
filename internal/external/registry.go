package external

import (
	"fmt"
	"log/slog"
	"net/http"

	"adalerts/internal/config"
	"adalerts/internal/notifications/core"
)

// NewSender builds the transport selected by cfg.Kind. recipients is only
// used by the smtp transport and may be nil otherwise.
func NewSender(cfg config.SenderConfig, recipients RecipientLookup, logger *slog.Logger) (core.Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Kind {
	case config.SenderGateway:
		logger.Info("using gateway sender", "url", cfg.GatewayURL)
		return NewGatewaySender(&http.Client{Timeout: cfg.HTTPTimeout}, GatewayConfig{
			URL:    cfg.GatewayURL,
			Token:  cfg.GatewayToken,
			Logger: logger.With("sender", "gateway"),
		}), nil

	case config.SenderSMTP:
		if recipients == nil {
			return nil, fmt.Errorf("smtp sender requires a recipient lookup")
		}
		logger.Info("using smtp sender", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
		dialer := NewSMTPDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
		return NewSMTPSender(dialer, recipients, SMTPConfig{
			From:           cfg.FromAddress,
			ListingURLBase: cfg.ListingURLBase,
			SettleTimeout:  cfg.SMTPSettleTimeout,
			Logger:         logger.With("sender", "smtp"),
		}), nil

	case config.SenderLog, "":
		logger.Warn("using log sender; notifications are not delivered")
		return NewLogSender(logger), nil

	default:
		return nil, fmt.Errorf("unknown sender kind %q", cfg.Kind)
	}
}
