package external

import (
	"bytes"
	"context"
	"errors"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"adalerts/internal/types"
)

type fakeDialer struct {
	mu    sync.Mutex
	sent  []*gomail.Message
	err   error
	block chan struct{}
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

type fakeRecipients struct {
	emails map[int64]string
}

func (f fakeRecipients) GetEmail(_ context.Context, userID int64) (string, error) {
	if e, ok := f.emails[userID]; ok {
		return e, nil
	}
	return "", types.NewAppError(types.ErrCodeNotFoundRecipient, "recipient not found", nil)
}

func newTestSMTP(d *fakeDialer) *SMTPSender {
	return NewSMTPSender(d, fakeRecipients{emails: map[int64]string{7: "buyer@example.com"}}, SMTPConfig{
		From:           "alerts@adalerts.local",
		ListingURLBase: "https://market.example.com/ads/",
		Logger:         discardLogger(),
	})
}

func TestSMTPSender_Send(t *testing.T) {
	d := &fakeDialer{}
	require.NoError(t, newTestSMTP(d).Send(context.Background(), 7, 1001))

	require.Len(t, d.sent, 1)
	m := d.sent[0]
	assert.Equal(t, []string{"buyer@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"alerts@adalerts.local"}, m.GetHeader("From"))
	assert.Equal(t, []string{smtpSubject}, m.GetHeader("Subject"))
	assert.Equal(t, []string{"1001"}, m.GetHeader("X-Ad-ID"))

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "https://market.example.com/ads/1001")
}

func TestSMTPSender_UnknownRecipientIsPermanent(t *testing.T) {
	d := &fakeDialer{}
	err := newTestSMTP(d).Send(context.Background(), 99, 1001)

	require.Error(t, err)
	assert.True(t, types.IsPermanentSendError(err))
	assert.Empty(t, d.sent)
}

func TestSMTPSender_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  types.ErrorCode
		permanent bool
	}{
		{"mailbox unavailable", &textproto.Error{Code: 550, Msg: "mailbox unavailable"}, types.ErrCodeUpstreamSendRejected, true},
		{"greylisted", &textproto.Error{Code: 451, Msg: "try again later"}, types.ErrCodeUpstreamSendFailed, false},
		{"connection refused", errors.New("dial tcp: connection refused"), types.ErrCodeUpstreamSendFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestSMTP(&fakeDialer{err: tt.err}).Send(context.Background(), 7, 1001)
			assert.Equal(t, tt.wantCode, types.CodeOf(err))
			assert.Equal(t, tt.permanent, types.IsPermanentSendError(err))
			if tt.permanent {
				assert.True(t, strings.Contains(err.Error(), "550"))
			}
		})
	}
}

func (d *fakeDialer) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func newTestSMTPWithSettle(d *fakeDialer, settle time.Duration) *SMTPSender {
	s := newTestSMTP(d)
	s.settle = settle
	return s
}

func TestSMTPSender_DeadlineWhileDialing(t *testing.T) {
	t.Run("exchange finishes within settle window", func(t *testing.T) {
		d := &fakeDialer{block: make(chan struct{})}
		s := newTestSMTPWithSettle(d, 5*time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		go func() {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			close(d.block)
		}()

		// The real outcome is reported, so a delivered message is not
		// recorded as a retryable failure.
		err := s.Send(ctx, 7, 1001)
		require.NoError(t, err)
		assert.Equal(t, 1, d.sentCount())
	})

	t.Run("exchange still in flight after settle window", func(t *testing.T) {
		d := &fakeDialer{block: make(chan struct{})}
		s := newTestSMTPWithSettle(d, 20*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := s.Send(ctx, 7, 1001)
		assert.Equal(t, types.ErrCodeUpstreamOutcomeUnknown, types.CodeOf(err))
		assert.True(t, types.IsPermanentSendError(err), "unknown outcome must never be retried")

		// The abandoned exchange may still deliver; the item is already
		// terminal so no second send follows.
		close(d.block)
		assert.Eventually(t, func() bool { return d.sentCount() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("deadline passed before dialing", func(t *testing.T) {
		d := &fakeDialer{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := newTestSMTP(d).Send(ctx, 7, 1001)
		assert.Equal(t, types.ErrCodeUpstreamTimeout, types.CodeOf(err))
		assert.False(t, types.IsPermanentSendError(err))
		assert.Zero(t, d.sentCount())
	})
}

func TestNewSMTPSender_SettleTimeout(t *testing.T) {
	assert.Equal(t, defaultSMTPSettleTimeout, newTestSMTP(&fakeDialer{}).settle)

	s := NewSMTPSender(&fakeDialer{}, fakeRecipients{}, SMTPConfig{SettleTimeout: 3 * time.Second, Logger: discardLogger()})
	assert.Equal(t, 3*time.Second, s.settle)
}
