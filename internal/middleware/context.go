package middleware

import (
	"context"

	"github.com/orderchat/internal/role"
)

type contextKey string

const ViewKey contextKey = "party_view"

// GetView returns the resolved party view from the context
// (set by CallerContext).
func GetView(ctx context.Context) (role.View, bool) {
	v, ok := ctx.Value(ViewKey).(role.View)
	return v, ok
}
