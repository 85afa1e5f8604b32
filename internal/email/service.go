// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-taskhub"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// TaskAssignedData holds data for the assignment email template
type TaskAssignedData struct {
	AppName   string
	UserName  string
	TaskTitle string
	Priority  string
	Deadline  string
	CreatedBy string
}

// DeadlineReminderData holds data for the reminder email template
type DeadlineReminderData struct {
	AppName   string
	UserName  string
	TaskTitle string
	Deadline  string
	TimeLeft  string
}

// SendTaskAssignedEmail notifies the assignee of a newly assigned task
func (s *Service) SendTaskAssignedEmail(to, userName, taskTitle, priority, createdBy string, deadline time.Time) error {
	data := TaskAssignedData{
		AppName:   "TaskHub",
		UserName:  userName,
		TaskTitle: taskTitle,
		Priority:  priority,
		Deadline:  deadline.Format("Mon, 2 Jan 2006 15:04"),
		CreatedBy: createdBy,
	}

	subject := fmt.Sprintf("New task assigned: %s", taskTitle)
	html, err := renderTemplate(taskAssignedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render task assigned template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendDeadlineReminderEmail warns the assignee that a deadline is close
func (s *Service) SendDeadlineReminderEmail(to, userName, taskTitle string, deadline time.Time) error {
	data := DeadlineReminderData{
		AppName:   "TaskHub",
		UserName:  userName,
		TaskTitle: taskTitle,
		Deadline:  deadline.Format("Mon, 2 Jan 2006 15:04"),
		TimeLeft:  time.Until(deadline).Round(time.Hour).String(),
	}

	subject := fmt.Sprintf("Deadline approaching: %s", taskTitle)
	html, err := renderTemplate(deadlineReminderEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render deadline reminder template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const taskAssignedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New task in {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .task { background: #f7f9fc; padding: 16px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.UserName}},</h2>

    <p>{{.CreatedBy}} assigned a new task to you.</p>

    <div class="task">
        <p><strong>{{.TaskTitle}}</strong></p>
        <p>Priority: {{.Priority}}</p>
        <p>Deadline: {{.Deadline}}</p>
    </div>

    <div class="footer">
        <p>You are receiving this email because a task was assigned to your {{.AppName}} account.</p>
    </div>
</body>
</html>`

const deadlineReminderEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Deadline approaching in {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #cc6600; padding-bottom: 10px; margin-bottom: 20px; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.UserName}},</h2>

    <div class="warning">
        <p><strong>{{.TaskTitle}}</strong> is due {{.Deadline}} ({{.TimeLeft}} left).</p>
    </div>

    <p>Please complete the task or update its status before the deadline.</p>

    <div class="footer">
        <p>You are receiving this email because the task is assigned to your {{.AppName}} account.</p>
    </div>
</body>
</html>`
