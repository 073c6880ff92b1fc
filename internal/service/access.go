package service

import (
	"strings"

	"github.com/rs/xid"
	"github.com/sakif/scene-capture/internal/apperror"
	"github.com/sakif/scene-capture/internal/model"
)

// THE SCENE ACCESS RULES, IN ONE PLACE:
//
//	            public scene     private scene
//	anonymous   read             Unauthenticated
//	owner       read + write     read + write
//	other user  read             Forbidden
//
// Writes (update, delete) are owner-only even on public scenes. There are no
// roles or groups: "owner" means the caller's UserID equals scene.OwnerID.
//
// An empty model.UserID stands for "anonymous" throughout the service layer.

// requireIdentity fails with Unauthenticated when there is no caller.
func requireIdentity(viewer model.UserID, action string) error {
	if viewer == "" {
		return apperror.Unauthenticated("authentication required to " + action)
	}
	return nil
}

// parseSceneID rejects ids that can't exist before touching the store.
//
// Scene ids are xids (20 chars, base32hex). xid.FromString does the full
// check, so "../etc" or a 3 MB path segment fails fast as InvalidInput
// instead of turning into a pointless query.
func parseSceneID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", apperror.ValidationFailed("id", "scene ID is required")
	}
	if _, err := xid.FromString(id); err != nil {
		return "", apperror.ValidationFailed("id", "invalid scene ID")
	}
	return id, nil
}

// authorizeRead applies the read column of the table above.
func authorizeRead(scene *model.Scene, viewer model.UserID) error {
	if scene.IsPublic {
		return nil
	}
	if viewer == "" {
		return apperror.Unauthenticated("authentication required to view this scene")
	}
	if !scene.OwnedBy(viewer) {
		return apperror.Forbidden("you do not have access to this scene")
	}
	return nil
}

// authorizeWrite is owner-only, regardless of IsPublic.
func authorizeWrite(scene *model.Scene, viewer model.UserID) error {
	if viewer == "" {
		return apperror.Unauthenticated("authentication required to modify this scene")
	}
	if !scene.OwnedBy(viewer) {
		return apperror.Forbidden("you are not the owner of this scene")
	}
	return nil
}
