package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"convohub/internal/services"
)

var (
	_ services.Mailer = (*Sender)(nil)
	_ services.Mailer = (*LogSender)(nil)
	_ Dialer          = (*gomail.Dialer)(nil)
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func TestSendInviteBuildsMessage(t *testing.T) {
	d := &fakeDialer{}
	s := NewSender(d, "no-reply@convohub.local", zap.NewNop())

	require.NoError(t, s.SendInvite(context.Background(), "new@example.com", "http://app/auth/signup?invite=abc", "Alice"))

	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"new@example.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Alice invited you to ConvoHub"}, d.sent[0].GetHeader("Subject"))
}

func TestSendInviteWrapsDialError(t *testing.T) {
	s := NewSender(&fakeDialer{err: errors.New("connection refused")}, "from@x", zap.NewNop())

	err := s.SendInvite(context.Background(), "new@example.com", "link", "Alice")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "send invite to new@example.com")
}

func TestSendInviteHonoursCancelledContext(t *testing.T) {
	d := &fakeDialer{}
	s := NewSender(d, "from@x", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.SendInvite(ctx, "a@b", "link", "Alice"), context.Canceled)
	assert.Empty(t, d.sent)
}

func TestRenderInviteEscapesName(t *testing.T) {
	body, err := renderInvite("<script>", "http://app/x")

	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, `href="http://app/x"`)
}

func TestLogSenderNeverFails(t *testing.T) {
	assert.NoError(t, NewLogSender(zap.NewNop()).SendInvite(context.Background(), "a@b", "link", "Alice"))
}
