// internal/notify/email.go

package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/orincore/circle-backend/internal/matchmaking"
)

// EmailMessage is a single outbound email.
type EmailMessage struct {
	To       string
	ToName   string
	Subject  string
	TextBody string
	HTMLBody string
}

// EmailProvider defines the email provider interface
type EmailProvider interface {
	SendEmail(ctx context.Context, msg *EmailMessage) error
}

// SendGridEmailProvider implements EmailProvider using SendGrid
type SendGridEmailProvider struct {
	apiKey string
	from   string
}

// NewSendGridEmailProvider creates a new SendGrid email provider
func NewSendGridEmailProvider(apiKey, from string) EmailProvider {
	return &SendGridEmailProvider{
		apiKey: apiKey,
		from:   from,
	}
}

// SendEmail sends an email using SendGrid
func (p *SendGridEmailProvider) SendEmail(ctx context.Context, msg *EmailMessage) error {
	from := mail.NewEmail("Circle", p.from)
	to := mail.NewEmail(msg.ToName, msg.To)

	message := mail.NewSingleEmail(from, msg.Subject, to, msg.TextBody, msg.HTMLBody)
	client := sendgrid.NewSendClient(p.apiKey)

	response, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email via SendGrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid returned error status: %d", response.StatusCode)
	}
	return nil
}

// MockEmailProvider implements EmailProvider for testing
type MockEmailProvider struct {
	SentEmails []EmailMessage
}

// NewMockEmailProvider creates a new mock email provider
func NewMockEmailProvider() *MockEmailProvider {
	return &MockEmailProvider{
		SentEmails: make([]EmailMessage, 0),
	}
}

func (p *MockEmailProvider) SendEmail(ctx context.Context, msg *EmailMessage) error {
	p.SentEmails = append(p.SentEmails, *msg)
	return nil
}

// UserDirectory resolves a user id to contact details.
type UserDirectory interface {
	ContactInfo(ctx context.Context, userID string) (email, name string, err error)
}

// MatchEmailNotifier emails both users when a match is made. Proposal
// lifecycle events are push-only and ignored here.
type MatchEmailNotifier struct {
	provider  EmailProvider
	directory UserDirectory
}

func NewMatchEmailNotifier(provider EmailProvider, directory UserDirectory) *MatchEmailNotifier {
	return &MatchEmailNotifier{provider: provider, directory: directory}
}

func (n *MatchEmailNotifier) ProposalCreated(p *matchmaking.Proposal) {}

func (n *MatchEmailNotifier) ProposalEnded(p *matchmaking.Proposal) {}

func (n *MatchEmailNotifier) MatchMade(m *matchmaking.Match) {
	// Fire and forget: a failed email never blocks the match path.
	go func() {
		ctx := context.Background()
		n.sendMatchEmail(ctx, m.UserA, m.UserB, m.Score)
		n.sendMatchEmail(ctx, m.UserB, m.UserA, m.Score)
	}()
}

func (n *MatchEmailNotifier) sendMatchEmail(ctx context.Context, userID, otherID string, score float64) {
	email, name, err := n.directory.ContactInfo(ctx, userID)
	if err != nil {
		log.Printf("Failed to resolve contact for %s: %v", userID, err)
		return
	}
	_, otherName, err := n.directory.ContactInfo(ctx, otherID)
	if err != nil {
		log.Printf("Failed to resolve contact for %s: %v", otherID, err)
		return
	}

	msg := &EmailMessage{
		To:      email,
		ToName:  name,
		Subject: "You have a new match!",
		TextBody: fmt.Sprintf(
			"Hi %s,\n\nYou and %s liked each other. Your compatibility score is %.0f out of 100.\n\nOpen the app to start chatting.",
			name, otherName, score,
		),
	}
	if err := n.provider.SendEmail(ctx, msg); err != nil {
		log.Printf("Failed to send match email to %s: %v", userID, err)
	}
}
