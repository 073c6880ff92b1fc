// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
// In a well-structured Go web app, code is organised into three layers:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// WHY A SEPARATE SERVICE LAYER?
// The scene access rules (who may read, who may write) are the heart of this
// application. Keeping them here means they are tested with plain Go calls
// (see scene_test.go) and no HTTP handler can forget one of them.
//
// DEPENDENCY INJECTION:
// SceneService takes a repository.SceneRepository (interface), NOT a
// *sqlite.DB. Tests pass an in-memory fake; main.go passes SQLite.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/sakif/scene-capture/internal/apperror"
	"github.com/sakif/scene-capture/internal/model"
	"github.com/sakif/scene-capture/internal/repository"
)

// Validation constants.
const (
	MaxVideoURLLength   = 2048
	MaxTranscriptLength = 100000
	DefaultListLimit    = 50
	MaxListLimit        = 200
)

// TitleQueue schedules a background video-title lookup. *titles.Pool
// implements it. Enqueue must not block.
type TitleQueue interface {
	Enqueue(sceneID, videoURL string) bool
}

// SceneService enforces the scene access rules and validates scene input.
type SceneService struct {
	repo   repository.SceneRepository
	titles TitleQueue // optional; nil disables title lookups
	logger *slog.Logger
}

// NewSceneService creates a SceneService. titles may be nil.
func NewSceneService(repo repository.SceneRepository, titles TitleQueue, logger *slog.Logger) *SceneService {
	return &SceneService{
		repo:   repo,
		titles: titles,
		logger: logger,
	}
}

// Create validates and stores a new scene owned by viewer.
//
// ACCEPT PRIMITIVES, NOT HTTP TYPES:
// The input is a model.NewScene, not an *http.Request. The handler turns
// multipart, urlencoded or JSON bodies into this struct; the service has
// no idea which one it was.
func (s *SceneService) Create(ctx context.Context, viewer model.UserID, in model.NewScene) (*model.Scene, error) {
	if err := requireIdentity(viewer, "create a scene"); err != nil {
		return nil, err
	}

	videoURL, err := validateVideoURL(in.VideoURL)
	if err != nil {
		return nil, err
	}
	if err := validateTimecode("startTimecode", in.StartTimecode); err != nil {
		return nil, err
	}
	if err := validateTimecode("endTimecode", in.EndTimecode); err != nil {
		return nil, err
	}
	if err := validateTranscript(in.Transcript); err != nil {
		return nil, err
	}
	if err := validateAudio(in.Audio); err != nil {
		return nil, err
	}

	scene := &model.Scene{
		OwnerID:       viewer,
		VideoURL:      videoURL,
		StartTimecode: in.StartTimecode,
		EndTimecode:   in.EndTimecode,
		Transcript:    in.Transcript,
		IsPublic:      in.IsPublic,
	}
	scene.SetAudio(in.Audio)

	if err := s.repo.Create(ctx, scene); err != nil {
		return nil, s.storeError("creating scene", err, slog.String("user_id", viewer.String()))
	}

	s.logger.Info("scene created",
		slog.String("scene_id", scene.ID),
		slog.String("user_id", viewer.String()),
		slog.Bool("has_audio", scene.HasAudio),
	)

	s.enqueueTitle(scene)
	return scene, nil
}

// Get returns one scene, audio included, if viewer may read it.
//
// ORDER OF CHECKS:
//  1. malformed id           → InvalidInput
//  2. no such scene          → NotFound
//  3. public                 → allowed for everyone
//  4. private, anonymous     → Unauthenticated
//  5. private, not the owner → Forbidden
func (s *SceneService) Get(ctx context.Context, viewer model.UserID, rawID string) (*model.Scene, error) {
	id, err := parseSceneID(rawID)
	if err != nil {
		return nil, err
	}

	scene, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeError("getting scene", err, slog.String("scene_id", id))
	}

	if err := authorizeRead(scene, viewer); err != nil {
		return nil, err
	}
	return scene, nil
}

// GetAudio returns just the recording, under the same rules as Get.
// A scene without audio is NotFound here.
func (s *SceneService) GetAudio(ctx context.Context, viewer model.UserID, rawID string) (*model.AudioPayload, error) {
	scene, err := s.Get(ctx, viewer, rawID)
	if err != nil {
		return nil, err
	}
	if scene.Audio == nil {
		return nil, &apperror.AppError{
			Err:     apperror.ErrNotFound,
			Message: "scene has no audio",
		}
	}
	return scene.Audio, nil
}

// Update applies a sparse patch to a scene the viewer owns.
//
// STRATEGY: "Fetch then update"
//  1. Fetch the existing scene (NotFound if it's gone)
//  2. Check ownership against the fetched record
//  3. Apply only the fields present in the patch to the fetched copy
//  4. Save the whole row back
//
// Steps 1 and 4 are separate statements, so two concurrent updates to the
// same scene race and the last writer wins. That is accepted: scenes have a
// single owner, who is rarely editing from two places at once.
//
// AUDIO:
// A new recording replaces the old one. ClearAudio removes the recording,
// but only when no new recording came with the same patch.
func (s *SceneService) Update(ctx context.Context, viewer model.UserID, rawID string, patch model.SceneUpdate) (*model.Scene, error) {
	if err := requireIdentity(viewer, "update a scene"); err != nil {
		return nil, err
	}
	id, err := parseSceneID(rawID)
	if err != nil {
		return nil, err
	}

	scene, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeError("getting scene", err, slog.String("scene_id", id))
	}
	if err := authorizeWrite(scene, viewer); err != nil {
		return nil, err
	}

	urlChanged := false
	if patch.VideoURL != nil {
		videoURL, err := validateVideoURL(*patch.VideoURL)
		if err != nil {
			return nil, err
		}
		if videoURL != scene.VideoURL {
			scene.VideoURL = videoURL
			// The old title describes the old video.
			scene.VideoTitle = ""
			urlChanged = true
		}
	}
	if patch.StartTimecode != nil {
		if err := validateTimecode("startTimecode", *patch.StartTimecode); err != nil {
			return nil, err
		}
		scene.StartTimecode = *patch.StartTimecode
	}
	if patch.EndTimecode != nil {
		if err := validateTimecode("endTimecode", *patch.EndTimecode); err != nil {
			return nil, err
		}
		scene.EndTimecode = *patch.EndTimecode
	}
	if patch.Transcript != nil {
		if err := validateTranscript(*patch.Transcript); err != nil {
			return nil, err
		}
		scene.Transcript = *patch.Transcript
	}
	if patch.IsPublic != nil {
		scene.IsPublic = *patch.IsPublic
	}

	switch {
	case patch.Audio != nil:
		if err := validateAudio(patch.Audio); err != nil {
			return nil, err
		}
		scene.SetAudio(patch.Audio)
	case patch.ClearAudio:
		scene.SetAudio(nil)
	}

	if err := s.repo.Update(ctx, scene); err != nil {
		return nil, s.storeError("updating scene", err, slog.String("scene_id", id))
	}

	s.logger.Info("scene updated",
		slog.String("scene_id", id),
		slog.String("user_id", viewer.String()),
		slog.Bool("video_changed", urlChanged),
	)

	if urlChanged {
		s.enqueueTitle(scene)
	}
	return scene, nil
}

// Delete removes a scene the viewer owns. Same fetch-then-write shape as
// Update.
func (s *SceneService) Delete(ctx context.Context, viewer model.UserID, rawID string) error {
	if err := requireIdentity(viewer, "delete a scene"); err != nil {
		return err
	}
	id, err := parseSceneID(rawID)
	if err != nil {
		return err
	}

	scene, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return s.storeError("getting scene", err, slog.String("scene_id", id))
	}
	if err := authorizeWrite(scene, viewer); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return s.storeError("deleting scene", err, slog.String("scene_id", id))
	}

	s.logger.Info("scene deleted",
		slog.String("scene_id", id),
		slog.String("user_id", viewer.String()),
	)
	return nil
}

// List returns the scenes viewer can see (public ones plus their own),
// newest first, without audio data.
//
// PAGINATION:
// limit is clamped to 1..MaxListLimit (0 means DefaultListLimit) and a
// negative offset is treated as 0, so callers can't request a million rows.
func (s *SceneService) List(ctx context.Context, viewer model.UserID, limit, offset int) ([]model.Scene, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	scenes, err := s.repo.ListVisible(ctx, viewer, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, s.storeError("listing scenes", err, slog.String("user_id", viewer.String()))
	}
	return scenes, nil
}

// enqueueTitle asks for a background title lookup. Best effort: a full
// queue just means the scene keeps no title.
func (s *SceneService) enqueueTitle(scene *model.Scene) {
	if s.titles == nil {
		return
	}
	s.titles.Enqueue(scene.ID, scene.VideoURL)
}

// storeError passes application errors (NotFound, Conflict, ...) through
// untouched and turns anything else into a logged Internal error.
//
// Don't log NotFound as an error: it's a normal response, not a failure.
func (s *SceneService) storeError(op string, err error, attrs ...any) error {
	if apperror.KindOf(err) != apperror.KindInternal {
		return err
	}
	s.logger.Error("scene store failure",
		append([]any{slog.String("op", op), slog.String("error", err.Error())}, attrs...)...,
	)
	return apperror.Internal(op, err)
}

// =========================================================================
// VALIDATION
// =========================================================================

func validateVideoURL(raw string) (string, error) {
	videoURL := strings.TrimSpace(raw)
	if videoURL == "" {
		return "", apperror.ValidationFailed("videoUrl", "video URL is required")
	}
	if len(videoURL) > MaxVideoURLLength {
		return "", apperror.ValidationFailed("videoUrl",
			fmt.Sprintf("video URL must be %d characters or less", MaxVideoURLLength))
	}
	return videoURL, nil
}

// validateTimecode accepts any finite number. end >= start is not enforced.
func validateTimecode(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return apperror.ValidationFailed(field, field+" must be a finite number")
	}
	return nil
}

func validateTranscript(t string) error {
	if len(t) > MaxTranscriptLength {
		return apperror.ValidationFailed("transcript",
			fmt.Sprintf("transcript must be %d characters or less", MaxTranscriptLength))
	}
	return nil
}

// validateAudio enforces the pair invariant: data and MIME type together.
func validateAudio(a *model.AudioPayload) error {
	if a == nil {
		return nil
	}
	if len(a.Data) == 0 {
		return apperror.ValidationFailed("audioFile", "audio file is empty")
	}
	if strings.TrimSpace(a.MimeType) == "" {
		return apperror.ValidationFailed("audioFile", "audio MIME type is required")
	}
	return nil
}
