// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
)

// actorIDKey is the context key for the authenticated actor's user ID.
type actorIDKey struct{}

// actorRoleKey is the context key for the authenticated actor's role.
type actorRoleKey struct{}

// errorCodeKey is the context key for error code.
type errorCodeKey struct{}

// SetActor stores the authenticated actor's user ID and role in the context.
// This is called by the auth middleware after validating the bearer token.
func SetActor(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, actorIDKey{}, userID)
	return context.WithValue(ctx, actorRoleKey{}, role)
}

// GetActorID retrieves the actor's user ID from context. Returns empty string if not present.
func GetActorID(ctx context.Context) string {
	if id, ok := ctx.Value(actorIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GetActorRole retrieves the actor's role from context. Returns empty string if not present.
func GetActorRole(ctx context.Context) string {
	if role, ok := ctx.Value(actorRoleKey{}).(string); ok {
		return role
	}
	return ""
}

// SetErrorCode stores an error code in the context.
// This should be called by handlers when returning error responses.
func SetErrorCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode retrieves the error code from context. Returns empty string if not present.
func GetErrorCode(ctx context.Context) string {
	if code, ok := ctx.Value(errorCodeKey{}).(string); ok {
		return code
	}
	return ""
}
