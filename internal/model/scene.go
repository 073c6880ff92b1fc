package model

import "time"

// AudioPayload is a recorded audio clip attached to a scene.
// Data and MimeType always travel together: a scene either has both or neither.
type AudioPayload struct {
	Data     []byte `json:"data"` // base64 in JSON
	MimeType string `json:"mimeType"`
}

// Scene is a captured moment of a video: the source video reference, the
// start/end timecodes (in seconds), what was said, and optionally a recording.
//
// The `json:"..."` tags tell encoding/json how to serialise the struct.
// `omitempty` drops the field from the output when it holds its zero value,
// so a scene without audio simply has no "audio" key.
type Scene struct {
	ID            string        `json:"id"`
	OwnerID       UserID        `json:"userId"`
	VideoURL      string        `json:"videoUrl"`
	VideoTitle    string        `json:"videoTitle,omitempty"`
	StartTimecode float64       `json:"startTimecode"`
	EndTimecode   float64       `json:"endTimecode"`
	Transcript    string        `json:"transcript"`
	Audio         *AudioPayload `json:"audio,omitempty"`
	HasAudio      bool          `json:"hasAudio"`
	IsPublic      bool          `json:"isPublic"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// OwnedBy reports whether id is the scene's owner.
// An empty id never owns anything.
func (s *Scene) OwnedBy(id UserID) bool {
	return id != "" && s.OwnerID == id
}

// SetAudio attaches a recording, or removes it when a is nil.
// Keeps HasAudio in step with Audio.
func (s *Scene) SetAudio(a *AudioPayload) {
	s.Audio = a
	s.HasAudio = a != nil
}

// SceneUpdate is a sparse patch: a nil field means "leave unchanged".
//
// WHY POINTERS?
// With plain values we couldn't tell "set transcript to empty" apart from
// "transcript wasn't sent". A nil pointer is "not sent"; a pointer to ""
// is an explicit empty value.
type SceneUpdate struct {
	VideoURL      *string
	StartTimecode *float64
	EndTimecode   *float64
	Transcript    *string
	IsPublic      *bool
	Audio         *AudioPayload
	// ClearAudio removes the recording. Ignored when Audio is also set.
	ClearAudio bool
}

// NewScene is the input for creating a scene. Zero values are the defaults:
// timecodes 0, empty transcript, no audio, private.
type NewScene struct {
	VideoURL      string
	StartTimecode float64
	EndTimecode   float64
	Transcript    string
	IsPublic      bool
	Audio         *AudioPayload
}
