package port

import (
	"context"
	"time"
)

// RoleResolver maps an approver role to the user ids allowed to act for it
type RoleResolver interface {
	ResolveApprovers(ctx context.Context, role string) ([]string, error)
}

// Clock supplies the current instant
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// MessageSender delivers a text message to one user
type MessageSender interface {
	SendMessage(ctx context.Context, userID string, content string) error
}
