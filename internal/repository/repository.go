// Package repository declares the storage interfaces the service layer
// depends on. Implementations live in sub-packages (see repository/sqlite).
package repository

import (
	"context"

	"github.com/sakif/scene-capture/internal/model"
)

// ListOptions pages a list query. The service clamps Limit before it gets
// here; Offset counts rows skipped from the newest.
type ListOptions struct {
	Limit  int
	Offset int
}

// SceneRepository persists scenes. Implementations generate IDs and
// timestamps and return apperror.NotFound for unknown IDs.
type SceneRepository interface {
	Create(ctx context.Context, scene *model.Scene) error
	GetByID(ctx context.Context, id string) (*model.Scene, error)
	// ListVisible returns scenes that are public or owned by viewer, newest
	// first, without audio data. An empty viewer sees public scenes only.
	ListVisible(ctx context.Context, viewer model.UserID, opts ListOptions) ([]model.Scene, error)
	Update(ctx context.Context, scene *model.Scene) error
	Delete(ctx context.Context, id string) error
	// SetVideoTitle stores a resolved title, but only while the scene still
	// points at videoURL. Returns false when nothing was updated.
	SetVideoTitle(ctx context.Context, id, videoURL, title string) (bool, error)
}

// UserRepository is the credential store.
type UserRepository interface {
	// Create inserts the user unless the email or username is taken, in which
	// case it returns apperror.Conflict naming the colliding field.
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id model.UserID) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
}
