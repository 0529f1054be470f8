package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailMailer sends digests through the Gmail API using an OAuth2 refresh
// token.
type GmailMailer struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailMailer creates a Gmail API mailer.
func NewGmailMailer(clientID, clientSecret, refreshToken, userEmail string) (*GmailMailer, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
	})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailMailer{
		service:   service,
		userEmail: userEmail,
	}, nil
}

// Send implements digest.Mailer.
func (m *GmailMailer) Send(ctx context.Context, to, subject, body string) error {
	var raw strings.Builder
	raw.WriteString(fmt.Sprintf("From: %s\r\n", m.userEmail))
	raw.WriteString(fmt.Sprintf("To: %s\r\n", to))
	raw.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	raw.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	raw.WriteString("MIME-Version: 1.0\r\n")
	raw.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	raw.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	raw.WriteString("\r\n")
	raw.WriteString(body)

	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw.String())),
	}

	if _, err := m.service.Users.Messages.Send(m.userEmail, message).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail send to %s failed: %w", to, err)
	}
	return nil
}
