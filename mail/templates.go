package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

// Kind selects a template.
type Kind string

const (
	KindPasswordReset     Kind = "password_reset"
	KindEmailVerification Kind = "email_verification"
	KindMagicLink         Kind = "magic_link"
)

// Data is the template input.
type Data struct {
	AppName   string
	Name      string
	Link      string
	ExpiresIn time.Duration
}

// Expiry renders ExpiresIn for humans.
func (d Data) Expiry() string {
	switch {
	case d.ExpiresIn >= time.Hour && d.ExpiresIn%time.Hour == 0:
		h := int(d.ExpiresIn / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	default:
		return fmt.Sprintf("%d minutes", int(d.ExpiresIn/time.Minute))
	}
}

type template struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Templates renders the built-in messages.
type Templates struct {
	byKind map[Kind]template
}

const (
	greeting = `Hi{{if .Name}} {{.Name}}{{end}},`
	footer   = `If you did not request this, you can ignore this email.`
)

var builtin = map[Kind]struct{ subject, text, html string }{
	KindPasswordReset: {
		subject: "Reset your {{.AppName}} password",
		text: greeting + `

Use the link below to choose a new password. It expires in {{.Expiry}} and works once.

{{.Link}}

` + footer + "\n",
		html: `<p>` + greeting + `</p>
<p>Use the link below to choose a new password. It expires in {{.Expiry}} and works once.</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>` + footer + `</p>`,
	},
	KindEmailVerification: {
		subject: "Confirm your email for {{.AppName}}",
		text: greeting + `

Confirm your email address with the link below. It expires in {{.Expiry}}.

{{.Link}}

` + footer + "\n",
		html: `<p>` + greeting + `</p>
<p>Confirm your email address with the link below. It expires in {{.Expiry}}.</p>
<p><a href="{{.Link}}">Confirm email</a></p>
<p>` + footer + `</p>`,
	},
	KindMagicLink: {
		subject: "Your {{.AppName}} sign-in link",
		text: greeting + `

Sign in with the link below. It expires in {{.Expiry}} and works once.

{{.Link}}

` + footer + "\n",
		html: `<p>` + greeting + `</p>
<p>Sign in with the link below. It expires in {{.Expiry}} and works once.</p>
<p><a href="{{.Link}}">Sign in</a></p>
<p>` + footer + `</p>`,
	},
}

// NewTemplates parses the built-in templates.
func NewTemplates() (*Templates, error) {
	t := &Templates{byKind: make(map[Kind]template, len(builtin))}
	for kind, src := range builtin {
		txt, err := texttemplate.New(string(kind)).Parse(src.text)
		if err != nil {
			return nil, fmt.Errorf("parse %s text: %w", kind, err)
		}
		html, err := htmltemplate.New(string(kind)).Parse(src.html)
		if err != nil {
			return nil, fmt.Errorf("parse %s html: %w", kind, err)
		}
		t.byKind[kind] = template{subject: src.subject, text: txt, html: html}
	}
	return t, nil
}

// Render builds the message of kind for recipient to.
func (t *Templates) Render(kind Kind, to string, data Data) (Message, error) {
	tpl, ok := t.byKind[kind]
	if !ok {
		return Message{}, fmt.Errorf("mail: unknown template %q", kind)
	}

	subject, err := texttemplate.New("subject").Parse(tpl.subject)
	if err != nil {
		return Message{}, err
	}
	var subj, txt, html bytes.Buffer
	if err := subject.Execute(&subj, data); err != nil {
		return Message{}, err
	}
	if err := tpl.text.Execute(&txt, data); err != nil {
		return Message{}, err
	}
	if err := tpl.html.Execute(&html, data); err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subj.String(), Text: txt.String(), HTML: html.String()}, nil
}
