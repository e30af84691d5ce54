// Package email sends SMTP notifications. All sending is optional: when SMTP
// is not configured the service reports unconfigured and callers skip it.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
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

// InvitationData holds data for the invitation notification template.
type InvitationData struct {
	AppName      string
	InviteeName  string
	InviterName  string
	ProjectTitle string
	Role         string
}

// SendInvitationEmail notifies a user that they have been invited to a project.
func (s *Service) SendInvitationEmail(to, inviteeName, inviterName, projectTitle, role string) error {
	data := InvitationData{
		AppName:      "TaskHive",
		InviteeName:  inviteeName,
		InviterName:  inviterName,
		ProjectTitle: projectTitle,
		Role:         role,
	}

	subject := fmt.Sprintf("You have been invited to %s", projectTitle)
	body, err := renderTemplate(invitationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}

	return s.SendEmail([]string{to}, subject, body)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const invitationEmailTemplate = `Hi {{.InviteeName}},

{{.InviterName}} has invited you to join the project "{{.ProjectTitle}}" on {{.AppName}} as a {{.Role}}.

Sign in and open your invitations to accept or decline.

— The {{.AppName}} team
`
