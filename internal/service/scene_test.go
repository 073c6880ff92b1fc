package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/scene-capture/internal/apperror"
	"github.com/sakif/scene-capture/internal/model"
	"github.com/sakif/scene-capture/internal/repository"
)

// =========================================================================
// FAKE REPOSITORY
// =========================================================================
//
// WHAT IS A FAKE?
// A fake is a working, in-memory implementation of an interface. The
// service can't tell it apart from SQLite, and tests run in microseconds.
//
// fakeSceneRepo also counts writes, so "nothing was persisted" is checkable.

type fakeSceneRepo struct {
	scenes  map[string]*model.Scene
	clock   time.Time
	creates int
	updates int
	// set to a non-nil error to simulate a database failure
	failWith error
}

func newFakeSceneRepo() *fakeSceneRepo {
	return &fakeSceneRepo{
		scenes: make(map[string]*model.Scene),
		clock:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick advances the fake clock so every write gets a distinct timestamp.
func (f *fakeSceneRepo) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeSceneRepo) Create(_ context.Context, scene *model.Scene) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.creates++
	scene.ID = xid.New().String()
	scene.CreatedAt = f.tick()
	scene.UpdatedAt = scene.CreatedAt
	stored := *scene
	f.scenes[scene.ID] = &stored
	return nil
}

func (f *fakeSceneRepo) GetByID(_ context.Context, id string) (*model.Scene, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	s, ok := f.scenes[id]
	if !ok {
		return nil, apperror.NotFound("scene", id)
	}
	// Return a copy so the caller can't modify our internal state
	result := *s
	return &result, nil
}

func (f *fakeSceneRepo) ListVisible(_ context.Context, viewer model.UserID, opts repository.ListOptions) ([]model.Scene, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	result := []model.Scene{}
	for _, s := range f.scenes {
		if s.IsPublic || s.OwnerID == viewer {
			listed := *s
			listed.Audio = nil
			result = append(result, listed)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if opts.Offset >= len(result) {
		return []model.Scene{}, nil
	}
	result = result[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (f *fakeSceneRepo) Update(_ context.Context, scene *model.Scene) error {
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.scenes[scene.ID]; !ok {
		return apperror.NotFound("scene", scene.ID)
	}
	f.updates++
	scene.UpdatedAt = f.tick()
	stored := *scene
	f.scenes[scene.ID] = &stored
	return nil
}

func (f *fakeSceneRepo) Delete(_ context.Context, id string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.scenes[id]; !ok {
		return apperror.NotFound("scene", id)
	}
	delete(f.scenes, id)
	return nil
}

func (f *fakeSceneRepo) SetVideoTitle(_ context.Context, id, videoURL, title string) (bool, error) {
	s, ok := f.scenes[id]
	if !ok || s.VideoURL != videoURL {
		return false, nil
	}
	s.VideoTitle = title
	return true, nil
}

// fakeTitleQueue records every Enqueue.
type fakeTitleQueue struct {
	mu   sync.Mutex
	jobs [][2]string
}

func (q *fakeTitleQueue) Enqueue(sceneID, videoURL string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, [2]string{sceneID, videoURL})
	return true
}

// =========================================================================
// TEST HELPERS
// =========================================================================

const (
	alice model.UserID = "alice-id"
	bob   model.UserID = "bob-id"
	carol model.UserID = "carol-id"
	anon  model.UserID = ""
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestSceneService wires a SceneService to fakes.
func newTestSceneService(t *testing.T) (*SceneService, *fakeSceneRepo, *fakeTitleQueue) {
	t.Helper()
	repo := newFakeSceneRepo()
	queue := &fakeTitleQueue{}
	return NewSceneService(repo, queue, testLogger()), repo, queue
}

func mustCreate(t *testing.T, svc *SceneService, owner model.UserID, in model.NewScene) *model.Scene {
	t.Helper()
	if in.VideoURL == "" {
		in.VideoURL = "https://youtu.be/dQw4w9WgXcQ"
	}
	scene, err := svc.Create(context.Background(), owner, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return scene
}

func ptr[T any](v T) *T { return &v }

func assertKind(t *testing.T, err error, want apperror.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	if got := apperror.KindOf(err); got != want {
		t.Errorf("error kind = %v (%v), want %v", got, err, want)
	}
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreate_Defaults(t *testing.T) {
	svc, _, queue := newTestSceneService(t)

	scene := mustCreate(t, svc, alice, model.NewScene{VideoURL: "  https://youtu.be/dQw4w9WgXcQ  "})

	if scene.ID == "" {
		t.Error("Create() returned scene without ID")
	}
	if scene.OwnerID != alice {
		t.Errorf("OwnerID = %q, want %q", scene.OwnerID, alice)
	}
	if scene.VideoURL != "https://youtu.be/dQw4w9WgXcQ" {
		t.Errorf("VideoURL = %q, want trimmed", scene.VideoURL)
	}
	if scene.StartTimecode != 0 || scene.EndTimecode != 0 || scene.Transcript != "" {
		t.Errorf("defaults not applied: %+v", scene)
	}
	if scene.IsPublic {
		t.Error("new scenes should be private by default")
	}
	if scene.Audio != nil || scene.HasAudio {
		t.Error("new scene should have no audio")
	}
	if len(queue.jobs) != 1 || queue.jobs[0][0] != scene.ID {
		t.Errorf("title jobs = %v, want one for %s", queue.jobs, scene.ID)
	}
}

func TestCreate_WithAudio(t *testing.T) {
	svc, _, _ := newTestSceneService(t)

	scene := mustCreate(t, svc, alice, model.NewScene{
		Audio: &model.AudioPayload{Data: []byte("OggS"), MimeType: "audio/ogg"},
	})

	if !scene.HasAudio || scene.Audio.MimeType != "audio/ogg" {
		t.Errorf("audio not stored: %+v", scene.Audio)
	}
}

func TestCreate_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		viewer   model.UserID
		in       model.NewScene
		wantKind apperror.Kind
	}{
		{"anonymous", anon, model.NewScene{VideoURL: "https://youtu.be/x"}, apperror.KindUnauthenticated},
		{"missing video url", alice, model.NewScene{}, apperror.KindInvalidInput},
		{"blank video url", alice, model.NewScene{VideoURL: "   "}, apperror.KindInvalidInput},
		{"NaN start", alice, model.NewScene{VideoURL: "u", StartTimecode: math.NaN()}, apperror.KindInvalidInput},
		{"infinite end", alice, model.NewScene{VideoURL: "u", EndTimecode: math.Inf(1)}, apperror.KindInvalidInput},
		{"audio without data", alice, model.NewScene{VideoURL: "u", Audio: &model.AudioPayload{MimeType: "audio/ogg"}}, apperror.KindInvalidInput},
		{"audio without mime", alice, model.NewScene{VideoURL: "u", Audio: &model.AudioPayload{Data: []byte{1}}}, apperror.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, queue := newTestSceneService(t)

			_, err := svc.Create(context.Background(), tt.viewer, tt.in)
			assertKind(t, err, tt.wantKind)

			// Nothing persisted, nothing enqueued.
			if repo.creates != 0 || len(repo.scenes) != 0 {
				t.Errorf("repo has %d scenes after a rejected create", len(repo.scenes))
			}
			if len(queue.jobs) != 0 {
				t.Errorf("title queue got %d jobs after a rejected create", len(queue.jobs))
			}
		})
	}
}

func TestCreate_StoreFailureIsInternal(t *testing.T) {
	svc, repo, _ := newTestSceneService(t)
	repo.failWith = errors.New("disk full")

	_, err := svc.Create(context.Background(), alice, model.NewScene{VideoURL: "u"})
	assertKind(t, err, apperror.KindInternal)
	if !errors.Is(err, apperror.ErrInternal) {
		t.Errorf("error = %v, want it to wrap ErrInternal", err)
	}
}

func TestCreate_WithoutTitleQueue(t *testing.T) {
	svc := NewSceneService(newFakeSceneRepo(), nil, testLogger())
	if _, err := svc.Create(context.Background(), alice, model.NewScene{VideoURL: "u"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

// =========================================================================
// READ TESTS
// =========================================================================

func TestGet_PublicSceneReadableByEveryone(t *testing.T) {
	svc, _, _ := newTestSceneService(t)
	scene := mustCreate(t, svc, alice, model.NewScene{
		IsPublic: true,
		Audio:    &model.AudioPayload{Data: []byte("x"), MimeType: "audio/webm"},
	})

	for _, viewer := range []model.UserID{alice, bob, anon} {
		got, err := svc.Get(context.Background(), viewer, scene.ID)
		if err != nil {
			t.Errorf("Get(viewer=%q) error = %v", viewer, err)
			continue
		}
		// Full record, audio included.
		if got.Audio == nil {
			t.Errorf("Get(viewer=%q) dropped the audio", viewer)
		}
	}
}

func TestGet_PrivateScene(t *testing.T) {
	svc, _, _ := newTestSceneService(t)
	scene := mustCreate(t, svc, alice, model.NewScene{})

	tests := []struct {
		name     string
		viewer   model.UserID
		wantKind apperror.Kind
		wantOK   bool
	}{
		{"owner", alice, 0, true},
		{"other user", bob, apperror.KindForbidden, false},
		{"anonymous", anon, apperror.KindUnauthenticated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Get(context.Background(), tt.viewer, scene.ID)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				return
			}
			assertKind(t, err, tt.wantKind)
		})
	}
}

func TestGet_BadIDs(t *testing.T) {
	svc, _, _ := newTestSceneService(t)

	_, err := svc.Get(context.Background(), alice, "not-an-xid")
	assertKind(t, err, apperror.KindInvalidInput)

	_, err = svc.Get(context.Background(), alice, "")
	assertKind(t, err, apperror.KindInvalidInput)

	// Well-formed but unknown.
	_, err = svc.Get(context.Background(), alice, xid.New().String())
	assertKind(t, err, apperror.KindNotFound)
}

func TestGetAudio(t *testing.T) {
	svc, _, _ := newTestSceneService(t)
	withAudio := mustCreate(t, svc, alice, model.NewScene{
		Audio: &model.AudioPayload{Data: []byte("RIFF"), MimeType: "audio/wav"},
	})
	without := mustCreate(t, svc, alice, model.NewScene{})

	audio, err := svc.GetAudio(context.Background(), alice, withAudio.ID)
	if err != nil {
		t.Fatalf("GetAudio() error = %v", err)
	}
	if string(audio.Data) != "RIFF" || audio.MimeType != "audio/wav" {
		t.Errorf("audio = %+v", audio)
	}

	_, err = svc.GetAudio(context.Background(), alice, without.ID)
	assertKind(t, err, apperror.KindNotFound)

	// Same access rules as Get.
	_, err = svc.GetAudio(context.Background(), bob, withAudio.ID)
	assertKind(t, err, apperror.KindForbidden)
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestUpdate_OnlyTranscriptLeavesEverythingElse(t *testing.T) {
	svc, _, queue := newTestSceneService(t)
	orig := mustCreate(t, svc, alice, model.NewScene{
		VideoURL:      "https://youtu.be/aaaaaaaaaaa",
		StartTimecode: 1.5,
		EndTimecode:   4,
		Transcript:    "before",
		Audio:         &model.AudioPayload{Data: []byte("x"), MimeType: "audio/webm"},
	})
	jobsBefore := len(queue.jobs)

	got, err := svc.Update(context.Background(), alice, orig.ID, model.SceneUpdate{Transcript: ptr("after")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if got.Transcript != "after" {
		t.Errorf("Transcript = %q, want %q", got.Transcript, "after")
	}
	if got.VideoURL != orig.VideoURL || got.StartTimecode != 1.5 || got.EndTimecode != 4 {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if got.Audio == nil || got.Audio.MimeType != "audio/webm" {
		t.Errorf("audio changed: %+v", got.Audio)
	}
	if got.IsPublic {
		t.Error("IsPublic changed")
	}
	if !got.UpdatedAt.After(orig.UpdatedAt) {
		t.Error("UpdatedAt was not refreshed")
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Error("CreatedAt changed")
	}
	if len(queue.jobs) != jobsBefore {
		t.Error("title lookup enqueued although the video URL didn't change")
	}
}

func TestUpdate_AllFields(t *testing.T) {
	svc, _, _ := newTestSceneService(t)
	orig := mustCreate(t, svc, alice, model.NewScene{})

	got, err := svc.Update(context.Background(), alice, orig.ID, model.SceneUpdate{
		StartTimecode: ptr(2.0),
		EndTimecode:   ptr(3.0),
		Transcript:    ptr(""),
		IsPublic:      ptr(true),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.StartTimecode != 2 || got.EndTimecode != 3 || !got.IsPublic {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestUpdate_VideoURLChangeResetsTitle(t *testing.T) {
	svc, repo, queue := newTestSceneService(t)
	orig := mustCreate(t, svc, alice, model.NewScene{VideoURL: "https://youtu.be/aaaaaaaaaaa"})
	repo.SetVideoTitle(context.Background(), orig.ID, "https://youtu.be/aaaaaaaaaaa", "Old Title")

	got, err := svc.Update(context.Background(), alice, orig.ID, model.SceneUpdate{
		VideoURL: ptr("https://youtu.be/bbbbbbbbbbb"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.VideoTitle != "" {
		t.Errorf("VideoTitle = %q, want cleared", got.VideoTitle)
	}

	last := queue.jobs[len(queue.jobs)-1]
	if last != [2]string{orig.ID, "https://youtu.be/bbbbbbbbbbb"} {
		t.Errorf("last title job = %v, want lookup of the new URL", last)
	}
}

func TestUpdate_ClearAudio(t *testing.T) {
	svc, repo, _ := newTestSceneService(t)
	orig := mustCreate(t, svc, alice, model.NewScene{
		Audio: &model.AudioPayload{Data: []byte("x"), MimeType: "audio/webm"},
	})

	got, err := svc.Update(context.Background(), alice, orig.ID, model.SceneUpdate{ClearAudio: true})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Audio != nil || got.HasAudio {
		t.Errorf("audio not cleared: %+v", got.Audio)
	}
	if repo.scenes[orig.ID].Audio != nil {
		t.Error("stored scene still has audio")
	}
}

func TestUpdate_NewAudioWinsOverClear(t *testing.T) {
	svc, _, _ := newTestSceneService(t)
	orig := mustCreate(t, svc, alice, model.NewScene{
		Audio: &model.AudioPayload{Data: []byte("old"), MimeType: "audio/webm"},
	})

	got, err := svc.Update(context.Background(), alice, orig.ID, model.SceneUpdate{
		Audio:      &model.AudioPayload{Data: []byte("new"), MimeType: "audio/ogg"},
		ClearAudio: true,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Audio == nil || string(got.Audio.Data) != "new" || got.Audio.MimeType != "audio/ogg" {
		t.Errorf("Audio = %+v, want the new recording", got.Audio)
	}
}

func TestUpdate_NonOwnerForbiddenEvenWhenPublic(t *testing.T) {
	svc, repo, _ := newTestSceneService(t)
	scene := mustCreate(t, svc, alice, model.NewScene{IsPublic: true})

	_, err := svc.Update(context.Background(), bob, scene.ID, model.SceneUpdate{Transcript: ptr("hijacked")})
	assertKind(t, err, apperror.KindForbidden)

	if repo.updates != 0 {
		t.Error("a forbidden update reached the store")
	}
}

func TestUpdate_Rejects(t *testing.T) {
	svc, _, _ := newTestSceneService(t)
	scene := mustCreate(t, svc, alice, model.NewScene{})

	tests := []struct {
		name     string
		viewer   model.UserID
		id       string
		patch    model.SceneUpdate
		wantKind apperror.Kind
	}{
		{"anonymous", anon, scene.ID, model.SceneUpdate{}, apperror.KindUnauthenticated},
		{"malformed id", alice, "nope", model.SceneUpdate{}, apperror.KindInvalidInput},
		{"unknown id", alice, xid.New().String(), model.SceneUpdate{}, apperror.KindNotFound},
		{"blank video url", alice, scene.ID, model.SceneUpdate{VideoURL: ptr(" ")}, apperror.KindInvalidInput},
		{"NaN timecode", alice, scene.ID, model.SceneUpdate{StartTimecode: ptr(math.NaN())}, apperror.KindInvalidInput},
		{"empty audio", alice, scene.ID, model.SceneUpdate{Audio: &model.AudioPayload{MimeType: "audio/ogg"}}, apperror.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(context.Background(), tt.viewer, tt.id, tt.patch)
			assertKind(t, err, tt.wantKind)
		})
	}
}

// =========================================================================
// DELETE TESTS
// =========================================================================

func TestDelete(t *testing.T) {
	svc, repo, _ := newTestSceneService(t)
	scene := mustCreate(t, svc, alice, model.NewScene{})

	if err := svc.Delete(context.Background(), alice, scene.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := repo.scenes[scene.ID]; ok {
		t.Error("scene still stored after Delete")
	}

	err := svc.Delete(context.Background(), alice, scene.ID)
	assertKind(t, err, apperror.KindNotFound)
}

func TestDelete_NonOwnerForbiddenEvenWhenPublic(t *testing.T) {
	svc, repo, _ := newTestSceneService(t)
	scene := mustCreate(t, svc, alice, model.NewScene{IsPublic: true})

	assertKind(t, svc.Delete(context.Background(), bob, scene.ID), apperror.KindForbidden)
	assertKind(t, svc.Delete(context.Background(), anon, scene.ID), apperror.KindUnauthenticated)
	assertKind(t, svc.Delete(context.Background(), alice, "bad id"), apperror.KindInvalidInput)

	if _, ok := repo.scenes[scene.ID]; !ok {
		t.Error("scene deleted by a non-owner")
	}
}

// =========================================================================
// LIST TESTS
// =========================================================================

func TestList_OwnPrivatePlusForeignPublic(t *testing.T) {
	svc, _, _ := newTestSceneService(t)
	own := mustCreate(t, svc, alice, model.NewScene{})
	foreign := mustCreate(t, svc, bob, model.NewScene{IsPublic: true})
	mustCreate(t, svc, carol, model.NewScene{}) // private, someone else's

	scenes, err := svc.List(context.Background(), alice, 0, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("List() returned %d scenes, want 2", len(scenes))
	}
	// Newest first.
	if scenes[0].ID != foreign.ID || scenes[1].ID != own.ID {
		t.Errorf("List() order = [%s %s], want [%s %s]", scenes[0].ID, scenes[1].ID, foreign.ID, own.ID)
	}
}

func TestList_AnonymousSeesOnlyPublic(t *testing.T) {
	svc, _, _ := newTestSceneService(t)
	mustCreate(t, svc, alice, model.NewScene{})
	pub := mustCreate(t, svc, alice, model.NewScene{IsPublic: true})

	scenes, err := svc.List(context.Background(), anon, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(scenes) != 1 || scenes[0].ID != pub.ID {
		t.Errorf("List(anon) = %v, want only %s", scenes, pub.ID)
	}
}

func TestList_Pagination(t *testing.T) {
	svc, _, _ := newTestSceneService(t)
	for i := 0; i < 5; i++ {
		mustCreate(t, svc, alice, model.NewScene{})
	}

	tests := []struct {
		name          string
		limit, offset int
		wantLen       int
	}{
		{"limit 2", 2, 0, 2},
		{"offset 4", 10, 4, 1},
		{"zero limit uses default", 0, 0, 5},
		{"negative offset clamped", 10, -1, 5},
		{"huge limit clamped", 1_000_000, 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenes, err := svc.List(context.Background(), alice, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(scenes) != tt.wantLen {
				t.Errorf("got %d scenes, want %d", len(scenes), tt.wantLen)
			}
		})
	}
}

func TestList_StoreFailure(t *testing.T) {
	svc, repo, _ := newTestSceneService(t)
	repo.failWith = errors.New("database is on fire")

	_, err := svc.List(context.Background(), alice, 0, 0)
	assertKind(t, err, apperror.KindInternal)
}

// =========================================================================
// SCENARIOS
// =========================================================================

// A private scene becomes readable by others once its owner publishes it.
func TestScenario_PublishMakesReadable(t *testing.T) {
	svc, _, _ := newTestSceneService(t)
	ctx := context.Background()

	scene := mustCreate(t, svc, alice, model.NewScene{Transcript: "hello"})

	_, err := svc.Get(ctx, bob, scene.ID)
	assertKind(t, err, apperror.KindForbidden)

	if _, err := svc.Update(ctx, alice, scene.ID, model.SceneUpdate{IsPublic: ptr(true)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := svc.Get(ctx, bob, scene.ID)
	if err != nil {
		t.Fatalf("Get() after publish error = %v", err)
	}
	if got.Transcript != "hello" || got.OwnerID != alice {
		t.Errorf("Get() = %+v, want the full record", got)
	}
}
