package email

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"text/template"
	"time"
)

// TemplateHeader carries the template id so mock inboxes can index by it.
const TemplateHeader = "X-Template-ID"

// Message is a plain text email.
type Message struct {
	From       string
	To         string
	Subject    string
	Body       string
	TemplateID string
	Date       time.Time
}

// Bytes renders the message with RFC 5322 headers.
func (m Message) Bytes() []byte {
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "To: %s\r\n", m.To)
	fmt.Fprintf(&sb, "From: %s\r\n", m.From)
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&sb, "Date: %s\r\n", date.Format(time.RFC1123Z))
	if m.TemplateID != "" {
		fmt.Fprintf(&sb, "%s: %s\r\n", TemplateHeader, m.TemplateID)
	}
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.TrimRight(m.Body, "\r\n"))
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

// SplitMessage returns the template id header and the body of a raw message.
func SplitMessage(raw []byte) (templateID, body string) {
	headers, rest, found := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !found {
		return "", string(raw)
	}
	prefix := TemplateHeader + ":"
	for _, line := range strings.Split(string(headers), "\r\n") {
		if strings.HasPrefix(line, prefix) {
			templateID = strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return templateID, strings.TrimRight(string(rest), "\r\n")
}

// Render executes subject and body templates against data. Missing keys are errors.
func Render(subjectTpl, bodyTpl string, data map[string]interface{}) (subject, body string, err error) {
	subject, err = execute("subject", subjectTpl, data)
	if err != nil {
		return "", "", err
	}
	body, err = execute("body", bodyTpl, data)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func execute(name, text string, data map[string]interface{}) (string, error) {
	tpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}
