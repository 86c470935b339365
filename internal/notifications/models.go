package notifications

import (
	"context"
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

func (c Channel) Valid() bool { return c == ChannelEmail || c == ChannelSMS }

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// MaxRetries bounds RetryCount. A FAILED record at MaxRetries is terminal.
const MaxRetries = 3

type Notification struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Channel      Channel    `json:"channel"`
	Recipient    string     `json:"recipient"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body"`
	Status       Status     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

type SendInput struct {
	UserID    string
	Channel   Channel
	Recipient string
	Subject   string
	Body      string
}

type Store interface {
	Create(ctx context.Context, n Notification) error
	Update(ctx context.Context, n Notification) error
	ListByUser(ctx context.Context, userID string) ([]Notification, error)
	ListByStatus(ctx context.Context, status Status) ([]Notification, error)
	// ListRetryable returns FAILED records with RetryCount < maxRetries, oldest first.
	ListRetryable(ctx context.Context, maxRetries int) ([]Notification, error)
}
