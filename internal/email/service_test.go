package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if got := svc.IsConfigured(); got != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSendEmailRequiresConfiguration(t *testing.T) {
	svc := NewService(Config{})
	err := svc.SendEmail([]string{"someone@example.com"}, "subject", "body")
	if err == nil {
		t.Fatal("expected error when email is not configured")
	}
}

func TestInvitationTemplateRenders(t *testing.T) {
	body, err := renderTemplate(invitationEmailTemplate, InvitationData{
		AppName:      "TaskHive",
		InviteeName:  "Robin Hale",
		InviterName:  "Jesse Ortiz",
		ProjectTitle: "Example Project",
		Role:         "Developer",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	for _, want := range []string{"Robin Hale", "Jesse Ortiz", "Example Project", "Developer"} {
		if !strings.Contains(body, want) {
			t.Errorf("rendered body missing %q", want)
		}
	}
}
