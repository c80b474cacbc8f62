package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func capture(svc *Service) *[]sentMail {
	var sent []sentMail
	svc.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return &sent
}

func configured() Config {
	return Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "Brand Lift"}
}

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
		{name: "fully configured", config: configured(), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendHTMLEmailNotConfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendHTMLEmail([]string{"a@example.com"}, "Subject", "text", "<p>html</p>"); err == nil {
		t.Error("expected error for unconfigured service")
	}
}

func TestSendHTMLEmailBuildsMultipart(t *testing.T) {
	svc := NewService(configured())
	sent := capture(svc)

	if err := svc.SendHTMLEmail([]string{"a@example.com", "b@example.com"}, "Hello", "plain", "<p>rich</p>"); err != nil {
		t.Fatalf("SendHTMLEmail failed: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(*sent))
	}
	got := (*sent)[0]
	if got.addr != "smtp.example.com:587" {
		t.Errorf("unexpected server %q", got.addr)
	}
	for _, want := range []string{"To: a@example.com, b@example.com", "From: Brand Lift <noreply@example.com>", "Subject: Hello", "plain", "<p>rich</p>"} {
		if !strings.Contains(got.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestNotifierReviewRequested(t *testing.T) {
	svc := NewService(configured())
	sent := capture(svc)
	n := NewNotifier(svc, []string{"reviewer@example.com", " "}, nil, "https://app.example.com/", zerolog.Nop())

	n.ReviewRequested(StudyNotice{StudyID: "std_1", StudyName: "Spring launch", FromStatus: "DRAFT", ToStatus: "PENDING_APPROVAL", ActorName: "Avery"})

	if len(*sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(*sent))
	}
	msg := (*sent)[0]
	if len(msg.to) != 1 || msg.to[0] != "reviewer@example.com" {
		t.Errorf("unexpected recipients %v", msg.to)
	}
	if !strings.Contains(msg.msg, "https://app.example.com/studies/std_1") {
		t.Error("expected study link in message")
	}
	if !strings.Contains(msg.msg, "Subject: Review requested: Spring launch") {
		t.Error("unexpected subject")
	}
}

func TestNotifierSkipsWithoutRecipients(t *testing.T) {
	svc := NewService(configured())
	sent := capture(svc)
	n := NewNotifier(svc, nil, nil, "", zerolog.Nop())

	n.StatusChanged(StudyNotice{StudyID: "std_1", StudyName: "x", ToStatus: "APPROVED"})
	if len(*sent) != 0 {
		t.Fatalf("expected no message, got %d", len(*sent))
	}
}

func TestNotifierSwallowsSendErrors(t *testing.T) {
	svc := NewService(configured())
	svc.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("smtp down") }
	n := NewNotifier(svc, nil, []string{"watch@example.com"}, "", zerolog.Nop())

	n.StatusChanged(StudyNotice{StudyID: "std_1", StudyName: "x", FromStatus: "APPROVED", ToStatus: "COLLECTING", Reason: "fielding"})
}

func TestNotifierSignOffRecipients(t *testing.T) {
	svc := NewService(configured())
	sent := capture(svc)
	n := NewNotifier(svc, []string{"reviewer@example.com"}, []string{"watch@example.com"}, "https://app.example.com", zerolog.Nop())
	notice := StudyNotice{StudyID: "std_1", StudyName: "Spring launch", FromStatus: "Approved", ToStatus: "Approved", ActorName: "Avery"}

	n.SignOffRequested(notice)
	n.SignedOff(notice)

	if len(*sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(*sent))
	}
	if (*sent)[0].to[0] != "reviewer@example.com" || !strings.Contains((*sent)[0].msg, "Subject: Sign-off requested: Spring launch") {
		t.Errorf("unexpected sign-off request %v", (*sent)[0])
	}
	if (*sent)[1].to[0] != "watch@example.com" || !strings.Contains((*sent)[1].msg, "Subject: Spring launch signed off") {
		t.Errorf("unexpected signed-off notice %v", (*sent)[1])
	}
}
