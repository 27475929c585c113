package sms

import (
	"fmt"
	"regexp"

	"github.com/talimy/notify"
)

// Built-in sms template names. Bodies are compact: every character
// counts against the provider's per-message size cap.
const (
	TemplateAttendanceAlert = "attendance-alert"
	TemplateGradeAlert      = "grade-alert"
	TemplateNotification    = "notification"
)

var smsTemplates = map[string]string{
	TemplateAttendanceAlert: "{{schoolName}}: {{studentName}} was marked {{status}} on {{date}}.",
	TemplateGradeAlert:      "{{schoolName}}: new grade for {{studentName}} in {{subject}}: {{grade}}.",
	TemplateNotification:    "{{message}}",
}

var smsVarPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// RenderSMS instantiates a built-in template. Unknown placeholders
// render as empty strings.
func RenderSMS(name string, vars map[string]string) (string, error) {
	tpl, ok := smsTemplates[name]
	if !ok {
		return "", fmt.Errorf("sms: unknown template %q: %w", name, notify.ErrInvalidInput)
	}
	return smsVarPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		key := smsVarPattern.FindStringSubmatch(m)[1]
		return vars[key]
	}), nil
}

// SMSTemplates lists the built-in template names.
func SMSTemplates() []string {
	return []string{TemplateAttendanceAlert, TemplateGradeAlert, TemplateNotification}
}
