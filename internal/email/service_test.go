package email

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	cases := []struct {
		name   string
		config Config
		want   bool
	}{
		{
			name:   "fully configured",
			config: Config{Host: "smtp.example.org", Port: "587", From: "handbook@example.org"},
			want:   true,
		},
		{
			name:   "missing host",
			config: Config{Port: "587", From: "handbook@example.org"},
			want:   false,
		},
		{
			name:   "missing from",
			config: Config{Host: "smtp.example.org", Port: "587"},
			want:   false,
		},
		{
			name:   "empty",
			config: Config{},
			want:   false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(tc.config)
			if got := svc.IsConfigured(); got != tc.want {
				t.Fatalf("IsConfigured() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSendEmailFailsWhenUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendEmail([]string{"pat@example.org"}, "subject", "body"); err == nil {
		t.Fatalf("expected error when SMTP is not configured")
	}
	if err := svc.SendHTMLEmail([]string{"pat@example.org"}, "subject", "<p>body</p>"); err == nil {
		t.Fatalf("expected error when SMTP is not configured")
	}
}

func TestWelcomeTemplateRenders(t *testing.T) {
	html, err := renderTemplate(welcomeEmailTemplate, WelcomeData{
		AppName:     "Handbook",
		UserName:    "Pat Reader",
		SurgeryName: "Hightown Surgery",
		SignInURL:   "https://handbook.example.org/signin",
	})
	if err != nil {
		t.Fatalf("render welcome template: %v", err)
	}
	for _, want := range []string{"Pat Reader", "Hightown Surgery", "https://handbook.example.org/signin"} {
		if !strings.Contains(html, want) {
			t.Fatalf("welcome email missing %q", want)
		}
	}
}

func TestEditAccessTemplateRenders(t *testing.T) {
	html, err := renderTemplate(editAccessEmailTemplate, EditAccessData{
		AppName:   "Handbook",
		UserName:  "Pat Reader",
		PageTitle: "Fire safety procedures",
		PageURL:   "https://handbook.example.org/handbook/itm_1",
		GrantedBy: "Alex Admin",
	})
	if err != nil {
		t.Fatalf("render edit access template: %v", err)
	}
	for _, want := range []string{"Pat Reader", "Fire safety procedures", "Alex Admin", "https://handbook.example.org/handbook/itm_1"} {
		if !strings.Contains(html, want) {
			t.Fatalf("edit access email missing %q", want)
		}
	}
}
