package service

import (
	"fmt"
	"strings"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// StatsPolicy decides which steps are attributed to an approver in statistics
type StatsPolicy string

const (
	// StatsPolicyAssigned counts only steps the approver claimed or decided
	StatsPolicyAssigned StatsPolicy = "assigned"
	// StatsPolicyBroadcast additionally counts unclaimed pending steps whose role includes the approver
	StatsPolicyBroadcast StatsPolicy = "broadcast"
)

// ParseStatsPolicy maps a configured policy name; empty means StatsPolicyAssigned
func ParseStatsPolicy(s string) (StatsPolicy, error) {
	switch StatsPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatsPolicyAssigned:
		return StatsPolicyAssigned, nil
	case StatsPolicyBroadcast:
		return StatsPolicyBroadcast, nil
	}
	return "", fmt.Errorf("%w: unknown statistics policy %q", entity.ErrInvalidInput, s)
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s is required", entity.ErrInvalidInput, kind)
	}
	return nil
}
