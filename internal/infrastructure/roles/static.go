// Package roles resolves approver roles to the user ids allowed to act for them
package roles

import (
	"context"
	"sort"
	"strings"

	"github.com/garyjia/approval-workflow/internal/application/port"
)

// StaticResolver serves a fixed role directory, usually taken from configuration
type StaticResolver struct {
	members map[string][]string
}

var _ port.RoleResolver = (*StaticResolver)(nil)

// NewStaticResolver copies members; blank and duplicate ids are dropped
func NewStaticResolver(members map[string][]string) *StaticResolver {
	cp := make(map[string][]string, len(members))
	for role, ids := range members {
		cp[strings.ToLower(role)] = normalize(ids)
	}
	return &StaticResolver{members: cp}
}

// ResolveApprovers returns the members of role; an unknown role has none.
// Lookups are case-insensitive because viper lower-cases map keys.
func (r *StaticResolver) ResolveApprovers(ctx context.Context, role string) ([]string, error) {
	ids := r.members[strings.ToLower(role)]
	return append([]string(nil), ids...), nil
}

// Roles lists the configured role names
func (r *StaticResolver) Roles() []string {
	out := make([]string, 0, len(r.members))
	for role := range r.members {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func normalize(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
