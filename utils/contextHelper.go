package utils

import (
	"context"

	"github.com/mmdatafocus/factory_backend/appctx"
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}

func SetSkipTenantScopeInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, appctx.ContextKeySkipTenantScope, skip)
}

// RequireActor rejects calls without a tenant.
func RequireActor(actor appctx.Actor) error {
	if !actor.Valid() {
		return ErrActorRequired
	}
	return nil
}
