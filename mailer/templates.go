package mailer

import (
	"fmt"
	"regexp"

	"github.com/talimy/notify"
)

// Built-in email template names.
const (
	TemplateWelcome       = "welcome"
	TemplatePasswordReset = "password-reset"
	TemplateInvoice       = "invoice"
	TemplateNotification  = "notification"
)

// RenderedEmail is a template instantiated with variables.
type RenderedEmail struct {
	Subject string
	HTML    string
}

type emailTemplate struct {
	subject string
	html    string
}

var emailTemplates = map[string]emailTemplate{
	TemplateWelcome: {
		subject: "Welcome to {{schoolName}}",
		html: `<h1>Welcome, {{name}}!</h1>
<p>Your account at {{schoolName}} is ready. Sign in with your email address to get started.</p>`,
	},
	TemplatePasswordReset: {
		subject: "Reset your password",
		html: `<h1>Password reset</h1>
<p>Hi {{name}}, use the link below to choose a new password. The link expires in one hour.</p>
<p><a href="{{resetUrl}}">Reset password</a></p>
<p>If you did not request this, you can ignore this email.</p>`,
	},
	TemplateInvoice: {
		subject: "Invoice {{invoiceNumber}}",
		html: `<h1>Invoice {{invoiceNumber}}</h1>
<p>Hi {{name}}, an invoice of {{amount}} is due on {{dueDate}}.</p>
<p><a href="{{invoiceUrl}}">View invoice</a></p>`,
	},
	TemplateNotification: {
		subject: "{{title}}",
		html: `<h2>{{title}}</h2>
<p>{{message}}</p>`,
	},
}

var emailVarPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// interpolate replaces {{var}} placeholders with values from vars.
// Unknown placeholders render as empty strings.
func interpolate(s string, vars map[string]string) string {
	return emailVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := emailVarPattern.FindStringSubmatch(m)[1]
		return vars[key]
	})
}

// RenderEmail instantiates a built-in template.
func RenderEmail(name string, vars map[string]string) (*RenderedEmail, error) {
	tpl, ok := emailTemplates[name]
	if !ok {
		return nil, fmt.Errorf("mailer: unknown template %q: %w", name, notify.ErrInvalidInput)
	}
	return &RenderedEmail{
		Subject: interpolate(tpl.subject, vars),
		HTML:    interpolate(tpl.html, vars),
	}, nil
}

// EmailTemplates lists the built-in template names.
func EmailTemplates() []string {
	return []string{TemplateWelcome, TemplatePasswordReset, TemplateInvoice, TemplateNotification}
}
