package mail

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogDispatcher writes messages to a logger instead of sending them.
// Links are included, so it must not be used in production.
type LogDispatcher struct {
	log logrus.FieldLogger
}

func NewLogDispatcher(log logrus.FieldLogger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	d.log.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Text,
	}).Info("mail not sent (log dispatcher)")
	return nil
}
