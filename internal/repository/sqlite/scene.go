package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/scene-capture/internal/apperror"
	"github.com/sakif/scene-capture/internal/model"
	"github.com/sakif/scene-capture/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// `var _ X = (*Y)(nil)` fails to compile if *Y doesn't implement X, so a
// missing method is caught here rather than at the call site.
var _ repository.SceneRepository = (*DB)(nil)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Create inserts a new scene.
//
// ID GENERATION WITH xid:
// xid IDs are 20 chars, URL-safe, and sortable by creation time
// (e.g. "cv37rs3pp9olc6atsptg"). The caller's struct is filled in place.
//
// PARAMETERIZED QUERIES:
// The ? placeholders are filled by the driver, which handles escaping.
// NEVER build SQL with fmt.Sprintf from user input.
func (db *DB) Create(ctx context.Context, scene *model.Scene) error {
	scene.ID = xid.New().String()

	now := time.Now().UTC()
	scene.CreatedAt = now
	scene.UpdatedAt = now

	audioData, audioMime := audioArgs(scene.Audio)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO scenes (id, user_id, video_url, video_title, start_timecode, end_timecode,
		                     transcript, audio_data, audio_mime_type, is_public, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scene.ID,
		string(scene.OwnerID),
		scene.VideoURL,
		scene.VideoTitle,
		scene.StartTimecode,
		scene.EndTimecode,
		scene.Transcript,
		audioData,
		audioMime,
		scene.IsPublic,
		scene.CreatedAt,
		scene.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating scene: %w", err)
	}

	scene.HasAudio = scene.Audio != nil
	return nil
}

// GetByID retrieves a single scene, audio included.
//
// sql.ErrNoRows is not really an error: it means "no matching row". We
// translate it to apperror.NotFound so the handler can answer 404.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Scene, error) {
	var (
		s         model.Scene
		ownerID   string
		audioData []byte
		audioMime sql.NullString
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, video_url, video_title, start_timecode, end_timecode,
		        transcript, audio_data, audio_mime_type, is_public, created_at, updated_at
		 FROM scenes
		 WHERE id = ?`,
		id,
	).Scan(
		&s.ID,
		&ownerID,
		&s.VideoURL,
		&s.VideoTitle,
		&s.StartTimecode,
		&s.EndTimecode,
		&s.Transcript,
		&audioData,
		&audioMime,
		&s.IsPublic,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("scene", id)
		}
		return nil, fmt.Errorf("sqlite: getting scene %s: %w", id, err)
	}

	s.OwnerID = model.UserID(ownerID)
	if audioMime.Valid {
		s.SetAudio(&model.AudioPayload{Data: audioData, MimeType: audioMime.String})
	}
	return &s, nil
}

// ListVisible returns the scenes a viewer may see: every public scene plus
// the viewer's own private ones, newest first.
//
// The audio BLOB is deliberately NOT selected: list responses would
// otherwise carry every recording. We select `audio_mime_type IS NOT NULL`
// instead so clients still know which scenes have audio.
//
// An empty viewer matches no user_id (IDs are never empty), so anonymous
// callers see public scenes only.
func (db *DB) ListVisible(ctx context.Context, viewer model.UserID, opts repository.ListOptions) ([]model.Scene, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	// created_at DESC = newest first; id DESC breaks ties (xid is time-ordered).
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, video_url, video_title, start_timecode, end_timecode,
		        transcript, audio_mime_type IS NOT NULL, is_public, created_at, updated_at
		 FROM scenes
		 WHERE is_public = 1 OR user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		string(viewer),
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing scenes: %w", err)
	}
	// CRITICAL: always close rows, or the connection never returns to the pool.
	defer rows.Close()

	scenes := make([]model.Scene, 0, limit)
	for rows.Next() {
		var (
			s       model.Scene
			ownerID string
		)
		if err := rows.Scan(
			&s.ID, &ownerID, &s.VideoURL, &s.VideoTitle,
			&s.StartTimecode, &s.EndTimecode, &s.Transcript,
			&s.HasAudio, &s.IsPublic, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning scene row: %w", err)
		}
		s.OwnerID = model.UserID(ownerID)
		scenes = append(scenes, s)
	}

	// rows.Err() catches errors that happened DURING iteration.
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating scenes: %w", err)
	}

	return scenes, nil
}

// Update writes every mutable column of scene and refreshes updated_at.
//
// The owner and created_at are never rewritten: ownership is fixed at
// creation. The caller is expected to have fetched the scene first and
// applied its patch to that copy.
func (db *DB) Update(ctx context.Context, scene *model.Scene) error {
	scene.UpdatedAt = time.Now().UTC()
	audioData, audioMime := audioArgs(scene.Audio)

	result, err := db.conn.ExecContext(ctx,
		`UPDATE scenes
		 SET video_url = ?, video_title = ?, start_timecode = ?, end_timecode = ?,
		     transcript = ?, audio_data = ?, audio_mime_type = ?, is_public = ?, updated_at = ?
		 WHERE id = ?`,
		scene.VideoURL,
		scene.VideoTitle,
		scene.StartTimecode,
		scene.EndTimecode,
		scene.Transcript,
		audioData,
		audioMime,
		scene.IsPublic,
		scene.UpdatedAt,
		scene.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating scene %s: %w", scene.ID, err)
	}

	// If 0 rows were affected, the WHERE clause didn't match → not found.
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("scene", scene.ID)
	}

	scene.HasAudio = scene.Audio != nil
	return nil
}

// Delete removes a scene by its ID.
// Same pattern as Update: check RowsAffected to detect "not found".
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM scenes WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting scene %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("scene", id)
	}

	return nil
}

// SetVideoTitle stores a title resolved in the background.
//
// The `AND video_url = ?` guard matters: the lookup runs asynchronously, and
// the owner may have pointed the scene at another video meanwhile. A stale
// title is silently dropped. updated_at is left alone since the owner
// didn't change anything.
func (db *DB) SetVideoTitle(ctx context.Context, id, videoURL, title string) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE scenes SET video_title = ? WHERE id = ? AND video_url = ?`,
		title, id, videoURL,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: setting title for scene %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n > 0, nil
}

// audioArgs returns the two audio column values: both NULL when there is
// no recording. Passing an untyped nil guarantees SQL NULL rather than an
// empty BLOB.
func audioArgs(a *model.AudioPayload) (any, any) {
	if a == nil {
		return nil, nil
	}
	return a.Data, a.MimeType
}
