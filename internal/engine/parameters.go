package engine

import (
	"errors"

	"github.com/railx/ordertrack/pkg/pipeline"
)

type ResolverFunc func(pctx *pipeline.Cargo) (string, error)

// func for param "{$user.id}"
func _userID(pctx *pipeline.Cargo) (string, error) {
	if pctx.Identity.UserID == "" {
		return "", errors.New("param variable 'user.id' is unavailable")
	}
	return pctx.Identity.UserID, nil
}

// func for param "{$user.role}"
func _userRole(pctx *pipeline.Cargo) (string, error) {
	return pctx.Identity.Role, nil
}

// func for param "{$conn.id}"
func _connID(pctx *pipeline.Cargo) (string, error) {
	if pctx.Connection == nil {
		return "", errors.New("param variable 'conn.id' is unavailable")
	}
	return pctx.Connection.ID.String(), nil
}

// func for params "{$target.id}" and "{$order.id}"
func _target(pctx *pipeline.Cargo) (string, error) {
	return pctx.TargetID, nil
}
