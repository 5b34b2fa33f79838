package common

import (
	"context"
	"slices"
	"strings"
)

type ctxKey string

const (
	userIDKey ctxKey = "auth/customer-id"
	rolesKey  ctxKey = "auth/roles"
)

// RoleReseller marks accounts that may see bulk reseller pricing.
const RoleReseller = "reseller"

// WithUserID stores the authenticated customer identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated customer identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// WithRoles stores the normalised account roles on the context.
func WithRoles(ctx context.Context, roles []string) context.Context {
	normalised := make([]string, 0, len(roles))
	for _, role := range roles {
		if trimmed := strings.ToLower(strings.TrimSpace(role)); trimmed != "" {
			normalised = append(normalised, trimmed)
		}
	}
	return context.WithValue(ctx, rolesKey, normalised)
}

// Roles returns the account roles attached to the context.
func Roles(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey).([]string)
	return roles
}

// HasRole reports whether the context carries the given role.
func HasRole(ctx context.Context, role string) bool {
	return slices.Contains(Roles(ctx), strings.ToLower(strings.TrimSpace(role)))
}

// IsReseller reports whether the authenticated account carries the reseller role.
func IsReseller(ctx context.Context) bool {
	return HasRole(ctx, RoleReseller)
}
