package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxShopID   contextKey = "shop_id"
	ctxBranchID contextKey = "branch_id"
	ctxUserID   contextKey = "user_id"
)

// ShopIDFromContext returns the tenant resolved by Tenant.
func ShopIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	v, ok := ctx.Value(ctxShopID).(uuid.UUID)
	return v, ok && v != uuid.Nil
}

// BranchIDFromContext returns the branch header, when one was sent.
func BranchIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	v, ok := ctx.Value(ctxBranchID).(uuid.UUID)
	return v, ok && v != uuid.Nil
}

// UserIDFromContext returns the acting user, when the gateway forwarded one.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	v, ok := ctx.Value(ctxUserID).(uuid.UUID)
	return v, ok && v != uuid.Nil
}

func WithShopID(ctx context.Context, shopID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxShopID, shopID)
}

func WithBranchID(ctx context.Context, branchID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxBranchID, branchID)
}

func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}
