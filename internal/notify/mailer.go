package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Message is a single outbound email.
type Message struct {
	ToName    string
	ToAddress string
	Subject   string
	Body      string
}

// Mailer is any sink that can deliver a message. Delivery is best-effort:
// the dispatcher logs failures and moves on.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendgridMailer delivers messages through the SendGrid v3 API.
type SendgridMailer struct {
	client     *sendgrid.Client
	from       *sgmail.Email
	subjPrefix string
}

// NewSendgridMailer constructs a SendGrid-backed mailer.
func NewSendgridMailer(apiKey, appName, fromAddress string) *SendgridMailer {
	return &SendgridMailer{
		client:     sendgrid.NewSendClient(apiKey),
		from:       sgmail.NewEmail(appName, fromAddress),
		subjPrefix: "[" + appName + "] ",
	}
}

// Send delivers one message.
func (m *SendgridMailer) Send(ctx context.Context, msg Message) error {
	mail := sgmail.NewSingleEmail(
		m.from,
		m.subjPrefix+msg.Subject,
		sgmail.NewEmail(msg.ToName, msg.ToAddress),
		msg.Body,
		"",
	)
	response, err := m.client.SendWithContext(ctx, mail)
	if err != nil {
		return fmt.Errorf("notify: sendgrid request: %w", err)
	}
	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify: sendgrid responded %d: %s", response.StatusCode, response.Body)
	}
	return nil
}

// ConsoleMailer logs messages instead of sending them, for local runs
// without a SendGrid key.
type ConsoleMailer struct {
	logger *zap.Logger
}

// NewConsoleMailer constructs a logging mailer.
func NewConsoleMailer(logger *zap.Logger) *ConsoleMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleMailer{logger: logger}
}

// Send logs the message.
func (m *ConsoleMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email (console sink)",
		zap.String("to", msg.ToAddress),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}
