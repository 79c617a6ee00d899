package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/textproto"
	"strconv"
	"strings"
	"text/template"
	"time"

	"gopkg.in/gomail.v2"

	"adalerts/internal/types"
)

const smtpSubject = "New listing matching your saved search"

const defaultSMTPSettleTimeout = 30 * time.Second

var smtpBody = template.Must(template.New("listing").Parse(
	`Hello,

A new listing matches one of your saved searches:

{{.URL}}

You receive this message because new-listing alerts are enabled on your account.
`))

// SMTPConfig holds the configuration for an SMTPSender.
type SMTPConfig struct {
	From           string
	ListingURLBase string
	// SettleTimeout bounds the wait for an SMTP exchange still in flight when
	// the send deadline passes. Zero uses 30s.
	SettleTimeout time.Duration
	Logger        *slog.Logger
}

// SMTPSender delivers a notification as a plain-text email with a link to
// the listing. The recipient address is looked up per send.
type SMTPSender struct {
	dialer     MailDialer
	recipients RecipientLookup
	from       string
	urlBase    string
	settle     time.Duration
	logger     *slog.Logger
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(dialer MailDialer, recipients RecipientLookup, cfg SMTPConfig) *SMTPSender {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settle := cfg.SettleTimeout
	if settle <= 0 {
		settle = defaultSMTPSettleTimeout
	}
	return &SMTPSender{
		dialer:     dialer,
		recipients: recipients,
		from:       cfg.From,
		urlBase:    strings.TrimSuffix(cfg.ListingURLBase, "/"),
		settle:     settle,
		logger:     logger,
	}
}

// NewSMTPDialer returns a gomail dialer for the given server.
func NewSMTPDialer(host string, port int, username string, password types.SecretString) *gomail.Dialer {
	return gomail.NewDialer(host, port, username, password.Unmask())
}

// Send looks up the recipient and mails the listing link. An unknown
// recipient or a 5xx SMTP reply is permanent; anything else is transient.
//
// SMTP has no idempotency key, so once a message is handed to the dialer its
// outcome must be known before the item can be retried. If the deadline
// passes mid-exchange, Send keeps waiting up to the settle timeout and
// reports the real result. Past that it returns upstream_outcome_unknown,
// which is never retried.
func (s *SMTPSender) Send(ctx context.Context, userID, adID int64) error {
	to, err := s.recipients.GetEmail(ctx, userID)
	if err != nil {
		return err
	}

	msg, err := s.buildMessage(to, adID)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamTimeout, "smtp send timed out before dialing", err)
	}

	// gomail has no context support.
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(msg)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		s.logger.Warn("smtp deadline passed mid-exchange, waiting for outcome",
			"user_id", userID, "ad_id", adID, "settle", s.settle)
		settle := time.NewTimer(s.settle)
		defer settle.Stop()
		select {
		case err = <-done:
		case <-settle.C:
			return types.NewAppError(types.ErrCodeUpstreamOutcomeUnknown,
				"smtp exchange still in flight after deadline; delivery state unknown", ctx.Err())
		}
	}

	if err != nil {
		return mapSMTPError(err)
	}

	s.logger.Debug("listing email sent", "user_id", userID, "ad_id", adID)
	return nil
}

func (s *SMTPSender) buildMessage(to string, adID int64) (*gomail.Message, error) {
	var body strings.Builder
	err := smtpBody.Execute(&body, struct{ URL string }{
		URL: s.urlBase + "/" + strconv.FormatInt(adID, 10),
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render email body", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", smtpSubject)
	m.SetHeader("X-Ad-ID", strconv.FormatInt(adID, 10))
	m.SetBody("text/plain", body.String())
	return m, nil
}

func mapSMTPError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return types.NewAppError(
			types.ErrCodeUpstreamSendRejected,
			fmt.Sprintf("smtp server rejected message (%d): %s", tpErr.Code, tpErr.Msg),
			err,
		)
	}
	return types.NewAppError(types.ErrCodeUpstreamSendFailed, "smtp send failed", err)
}
