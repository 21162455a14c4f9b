package ports

import (
	"context"

	"sleepstage/domain/core"
	"sleepstage/domain/model"
)

// ModelRepository persists one LearnedModel per user as an opaque blob.
// Load returns an errors.CodeNotFound AppError when the user has no model.
type ModelRepository interface {
	Load(ctx context.Context, userID core.UserID) (*model.LearnedModel, error)
	Save(ctx context.Context, m *model.LearnedModel) error
	Clear(ctx context.Context, userID core.UserID) error
}
