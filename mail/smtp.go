package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/jordan-wright/email"
	"github.com/knadh/smtppool"
)

// SMTPConfig describes one SMTP relay.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	InsecureSkipVerify bool
	MaxConns           int
	SendTimeout        time.Duration
}

// Validate checks the fields every SMTP dispatcher needs.
func (c SMTPConfig) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("smtp host must be set")
	case c.Port <= 0 || c.Port > 65535:
		return errors.New("smtp port must be within 1-65535")
	case c.From == "":
		return errors.New("smtp from address must be set")
	}
	return nil
}

func (c SMTPConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c SMTPConfig) auth() smtp.Auth {
	if c.Username == "" && c.Password == "" {
		return nil
	}
	return smtp.PlainAuth("", c.Username, c.Password, c.Host)
}

func (c SMTPConfig) tlsConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         c.Host,
	}
}

// PoolDispatcher sends through a pool of persistent SMTP connections.
type PoolDispatcher struct {
	cfg  SMTPConfig
	pool *smtppool.Pool
}

// NewPoolDispatcher opens a connection pool to the relay.
func NewPoolDispatcher(cfg SMTPConfig) (*PoolDispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	pool, err := smtppool.New(smtppool.Opt{
		Host:            cfg.Host,
		Port:            cfg.Port,
		MaxConns:        cfg.MaxConns,
		IdleTimeout:     cfg.SendTimeout,
		PoolWaitTimeout: cfg.SendTimeout,
		TLSConfig:       cfg.tlsConfig(),
		Auth:            cfg.auth(),
	})
	if err != nil {
		return nil, fmt.Errorf("smtp pool: %w", err)
	}
	return &PoolDispatcher{cfg: cfg, pool: pool}, nil
}

func (d *PoolDispatcher) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	return d.pool.Send(poolEmail(d.cfg.From, msg))
}

// Close shuts the pool down.
func (d *PoolDispatcher) Close() {
	d.pool.Close()
}

func poolEmail(from string, msg Message) smtppool.Email {
	return smtppool.Email{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    []byte(msg.Text),
		HTML:    []byte(msg.HTML),
	}
}

// DirectDispatcher opens a new STARTTLS connection per message. Suited to
// low-volume deployments and relays that drop idle connections.
type DirectDispatcher struct {
	cfg SMTPConfig
}

func NewDirectDispatcher(cfg SMTPConfig) (*DirectDispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DirectDispatcher{cfg: cfg}, nil
}

func (d *DirectDispatcher) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	e := directEmail(d.cfg.From, msg)

	done := make(chan error, 1)
	go func() { done <- e.SendWithStartTLS(d.cfg.addr(), d.cfg.auth(), d.cfg.tlsConfig()) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func directEmail(from string, msg Message) *email.Email {
	e := email.NewEmail()
	e.From = from
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Text)
	if msg.HTML != "" {
		e.HTML = []byte(msg.HTML)
	}
	return e
}
