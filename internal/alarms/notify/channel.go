package notify

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyRecipient is returned when a delivery has no target.
var ErrEmptyRecipient = errors.New("notify: empty recipient")

// Recipient roles, used for routing and metrics.
const (
	RoleAdmin     = "admin"
	RoleRecipient = "recipient"
)

// Document is a file attachment.
type Document struct {
	Name    string
	Data    []byte
	Caption string
}

// Channel delivers pre-rendered content to a single recipient. Failures are
// per call; channels never retry.
type Channel interface {
	SendText(ctx context.Context, recipient, content string) error
	SendDocument(ctx context.Context, recipient string, doc Document) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
