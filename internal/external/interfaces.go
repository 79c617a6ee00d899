package external

import (
	"context"

	"gopkg.in/gomail.v2"

	"adalerts/internal/notifications/core"
)

// RecipientLookup resolves the delivery address of a user. A missing user or
// address must be reported as types.ErrCodeNotFoundRecipient.
type RecipientLookup interface {
	GetEmail(ctx context.Context, userID int64) (string, error)
}

// MailDialer is the subset of *gomail.Dialer used by SMTPSender.
type MailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Compile-time assertions that every transport satisfies core.Sender.
var (
	_ core.Sender = (*GatewaySender)(nil)
	_ core.Sender = (*SMTPSender)(nil)
	_ core.Sender = (*LogSender)(nil)
	_ MailDialer  = (*gomail.Dialer)(nil)
)
