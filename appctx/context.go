package appctx

import (
	"context"
	"strings"
)

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyBusinessId    = ContextKey("BusinessId")
	ContextKeyUserId        = ContextKey("UserId")
	ContextKeyUserName      = ContextKey("UserName")
	ContextKeyUserRole      = ContextKey("UserRole")
	ContextKeyCorrelationId = ContextKey("CorrelationId")
	ContextKeyActor         = ContextKey("Actor")

	// ContextKeySkipTenantScope forces tenant scoping to be disabled for the request.
	// Use sparingly (internal ops only).
	ContextKeySkipTenantScope = ContextKey("SkipTenantScope")
)

// Actor is the caller of a core operation. It is passed explicitly into every
// operation in models; the request context only carries it between middleware and handler.
type Actor struct {
	BusinessId string `json:"business_id"`
	UserId     int    `json:"user_id"`
	UserName   string `json:"user_name"`
	Role       string `json:"role"`
}

func (a Actor) Valid() bool {
	return strings.TrimSpace(a.BusinessId) != ""
}

// HasRole compares case-insensitively against any of the given roles.
func (a Actor) HasRole(roles ...string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), strings.TrimSpace(a.Role)) && a.Role != "" {
			return true
		}
	}
	return false
}

// Scope returns ctx carrying the actor's tenant so the tenant guard plugin can scope queries.
func (a Actor) Scope(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ContextKeyBusinessId, a.BusinessId)
	ctx = context.WithValue(ctx, ContextKeyUserId, a.UserId)
	return ctx
}

func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = a.Scope(ctx)
	ctx = context.WithValue(ctx, ContextKeyUserName, a.UserName)
	ctx = context.WithValue(ctx, ContextKeyUserRole, a.Role)
	return context.WithValue(ctx, ContextKeyActor, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	a, ok := ctx.Value(ContextKeyActor).(Actor)
	return a, ok
}

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
