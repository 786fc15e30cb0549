// Package sendemail implements the send_email step executor on top of the
// SendGrid transactional mail API.
package sendemail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/template"
)

const defaultFromAddress = "noreply@conveyor.dev"

// ErrRecipientRequired is returned when the step config has no recipient.
var ErrRecipientRequired = errors.New("send_email step requires at least one recipient")

// Sender delivers a prepared message. The production implementation wraps
// the SendGrid client; tests substitute a stub.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// Message is the normalized email: recipients flattened to lists, subject
// defaulted when blank.
type Message struct {
	From    string
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Body    string
	IsHTML  bool
}

// Result reports a provider-acknowledged send.
type Result struct {
	MessageID string
	Success   bool
}

// Executor sends one email per invocation. Delivery is at-least-once: a
// retried job re-sends.
type Executor struct {
	To      any
	CC      any
	BCC     any
	Subject string
	Body    string
	IsHTML  bool

	sender Sender
}

// NewExecutor creates a send_email executor from raw step configuration.
func NewExecutor(config map[string]any, sender Sender) (*Executor, error) {
	subject, _ := config["subject"].(string)
	body, _ := config["body"].(string)
	isHTML, _ := config["is_html"].(bool)

	if config["to"] == nil {
		return nil, ErrRecipientRequired
	}

	return &Executor{
		To:      config["to"],
		CC:      config["cc"],
		BCC:     config["bcc"],
		Subject: subject,
		Body:    body,
		IsHTML:  isHTML,
		sender:  sender,
	}, nil
}

// Execute resolves configuration against the execution context, normalizes
// recipients, and sends through the provider. Provider failures surface as
// step failures with the provider message folded in.
func (e *Executor) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "send_email_step")

	msg, err := e.buildMessage(executionCtx)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Sending email", "to", msg.To, "subject", msg.Subject)

	result, err := e.sender.Send(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("email sending failed: %w", err)
	}

	logger.InfoContext(ctx, "Email sent", "message_id", result.MessageID)

	return map[string]any{
		"message_id": result.MessageID,
		"success":    result.Success,
	}, nil
}

func (e *Executor) buildMessage(executionCtx models.ExecutionContext) (*Message, error) {
	to := normalizeAddresses(template.ResolveConfig(e.To, executionCtx.Data))
	if len(to) == 0 {
		return nil, ErrRecipientRequired
	}

	subject := strings.TrimSpace(template.Resolve(e.Subject, executionCtx.Data))
	if subject == "" {
		subject = "No Subject"
	}

	from := os.Getenv("EMAIL_FROM")
	if from == "" {
		from = defaultFromAddress
	}

	return &Message{
		From:    from,
		To:      to,
		CC:      normalizeAddresses(template.ResolveConfig(e.CC, executionCtx.Data)),
		BCC:     normalizeAddresses(template.ResolveConfig(e.BCC, executionCtx.Data)),
		Subject: subject,
		Body:    template.Resolve(e.Body, executionCtx.Data),
		IsHTML:  e.IsHTML,
	}, nil
}

// normalizeAddresses accepts a single address or a list of addresses.
func normalizeAddresses(value any) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}

		return []string{v}
	case []any:
		addresses := make([]string, 0, len(v))

		for _, item := range v {
			if addr, ok := item.(string); ok && addr != "" {
				addresses = append(addresses, addr)
			}
		}

		return addresses
	case []string:
		return v
	default:
		return nil
	}
}

// SendGridSender is the production Sender backed by the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
}

func NewSendGridSender(apiKey string) *SendGridSender {
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey)}
}

func (s *SendGridSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail("", msg.From))
	message.Subject = msg.Subject

	personalization := mail.NewPersonalization()
	for _, addr := range msg.To {
		personalization.AddTos(mail.NewEmail("", addr))
	}

	for _, addr := range msg.CC {
		personalization.AddCCs(mail.NewEmail("", addr))
	}

	for _, addr := range msg.BCC {
		personalization.AddBCCs(mail.NewEmail("", addr))
	}

	message.AddPersonalizations(personalization)

	contentType := "text/plain"
	if msg.IsHTML {
		contentType = "text/html"
	}

	message.AddContent(mail.NewContent(contentType, msg.Body))

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return nil, err
	}

	if response.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("provider rejected message (status %d): %s",
			response.StatusCode, strings.TrimSpace(response.Body))
	}

	messageID := ""
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}

	return &Result{
		MessageID: messageID,
		Success:   true,
	}, nil
}
