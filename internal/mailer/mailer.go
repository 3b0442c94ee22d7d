// Package mailer delivers outbound email. Delivery is fire-and-forget
// from the caller's perspective: a failed send is logged, never retried.
package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Mailer sends a single message to a recipient.
type Mailer interface {
	Send(recipient, subject, body string) error
}

// Message is the wire shape published for the delivery worker.
type Message struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sentAt"`
}

// AMQPMailer publishes outbound mail to a RabbitMQ queue consumed by an
// external delivery worker.
type AMQPMailer struct {
	channel *amqp.Channel
	conn    *amqp.Connection
	queue   string
}

// NewAMQPMailer connects to the broker and declares a durable queue.
func NewAMQPMailer(url, queue string) (*AMQPMailer, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = "reviewboard.mail"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPMailer{channel: channel, conn: conn, queue: queue}, nil
}

// Send publishes the message as a persistent JSON payload.
func (m *AMQPMailer) Send(recipient, subject, body string) error {
	raw, err := json.Marshal(Message{
		To:      recipient,
		Subject: subject,
		Body:    body,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.channel.PublishWithContext(ctx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         raw,
	})
}

// Close releases the channel and connection.
func (m *AMQPMailer) Close() {
	_ = m.channel.Close()
	_ = m.conn.Close()
}

// LogMailer writes mail to the structured log. Used when no broker is
// configured, typically in local development.
type LogMailer struct{}

func (LogMailer) Send(recipient, subject, _ string) error {
	slog.Info("outbound email", "to", recipient, "subject", subject)
	return nil
}

// MemoryMailer records messages for tests.
type MemoryMailer struct {
	mu   sync.Mutex
	sent []Message
}

// NewMemoryMailer initializes an empty recording mailer.
func NewMemoryMailer() *MemoryMailer {
	return &MemoryMailer{}
}

func (m *MemoryMailer) Send(recipient, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Message{To: recipient, Subject: subject, Body: body, SentAt: time.Now().UTC()})
	return nil
}

// Sent returns a copy of everything recorded so far.
func (m *MemoryMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
