package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplates(t *testing.T) {
	tpl, err := NewTemplates()
	require.NoError(t, err)

	msg, err := tpl.Render(KindPasswordReset, "a@example.com", Data{
		AppName:   "Marks",
		Name:      "Ada",
		Link:      "https://app.example.com/reset?token=abc&x=<y>",
		ExpiresIn: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", msg.To)
	assert.Equal(t, "Reset your Marks password", msg.Subject)
	assert.Contains(t, msg.Text, "Hi Ada,")
	assert.Contains(t, msg.Text, "expires in 1 hour")
	assert.Contains(t, msg.Text, "token=abc&x=<y>")
	assert.NotContains(t, msg.HTML, "<y>", "html body must escape the link")

	msg, err = tpl.Render(KindMagicLink, "b@example.com", Data{AppName: "Marks", Link: "https://x", ExpiresIn: 15 * time.Minute})
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "Hi,")
	assert.Contains(t, msg.Text, "15 minutes")

	msg, err = tpl.Render(KindEmailVerification, "c@example.com", Data{AppName: "Marks", Link: "https://x", ExpiresIn: 24 * time.Hour})
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "24 hours")

	_, err = tpl.Render(Kind("nope"), "c@example.com", Data{})
	assert.Error(t, err)
}

func TestOutbox(t *testing.T) {
	o := NewOutbox()
	ctx := context.Background()

	require.NoError(t, o.Send(ctx, Message{To: "a@example.com", Subject: "one"}))
	require.NoError(t, o.Send(ctx, Message{To: "a@example.com", Subject: "two"}))
	assert.ErrorIs(t, o.Send(ctx, Message{}), ErrNoRecipient)

	last, ok := o.Last("a@example.com")
	require.True(t, ok)
	assert.Equal(t, "two", last.Subject)
	assert.Len(t, o.Messages(), 2)

	boom := errors.New("relay down")
	o.FailWith(boom)
	assert.ErrorIs(t, o.Send(ctx, Message{To: "a@example.com"}), boom)
}

func TestLogDispatcher(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	d := NewLogDispatcher(logger)
	require.NoError(t, d.Send(context.Background(), Message{To: "a@example.com", Subject: "hi", Text: "body"}))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "a@example.com", entry.Data["to"])
	assert.Equal(t, "hi", entry.Data["subject"])
}

func TestSMTPConfigValidate(t *testing.T) {
	good := SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"}
	assert.NoError(t, good.Validate())
	assert.Equal(t, "smtp.example.com:587", good.addr())
	assert.Nil(t, good.auth())

	withAuth := good
	withAuth.Username = "u"
	withAuth.Password = "p"
	assert.NotNil(t, withAuth.auth())

	bad := good
	bad.Port = 0
	assert.Error(t, bad.Validate())
	bad = good
	bad.From = ""
	assert.Error(t, bad.Validate())

	_, err := NewDirectDispatcher(SMTPConfig{})
	assert.Error(t, err)
	_, err = NewPoolDispatcher(SMTPConfig{})
	assert.Error(t, err)
}

func TestDirectEmailBytes(t *testing.T) {
	e := directEmail("noreply@example.com", Message{To: "a@example.com", Subject: "Sign in", Text: "plain", HTML: "<p>html</p>"})
	raw, err := e.Bytes()
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, "To: <a@example.com>")
	assert.Contains(t, s, "Subject: Sign in")
	assert.True(t, strings.Contains(s, "text/html"))
}

func TestPoolEmail(t *testing.T) {
	e := poolEmail("noreply@example.com", Message{To: "a@example.com", Subject: "s", Text: "t"})
	assert.Equal(t, []string{"a@example.com"}, e.To)
	assert.Equal(t, "noreply@example.com", e.From)
	assert.Equal(t, []byte("t"), e.Text)
}
