package ops

import (
	"context"
	"strings"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// GetCanon returns the canon with the given id, or the workspace's current
// canon when id is empty.
func GetCanon(ctx context.Context, deps Deps, scope Scope, id string) (*model.Canon, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if id = strings.TrimSpace(id); id != "" {
		return db.GetCanon(ctx, deps.DB, scope.WorkspaceID, id)
	}
	c, err := db.LatestCanon(ctx, deps.DB, scope.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.NewNotFound("canon", "current")
	}
	return c, nil
}
