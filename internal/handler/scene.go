package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sakif/scene-capture/internal/apperror"
	"github.com/sakif/scene-capture/internal/auth"
	"github.com/sakif/scene-capture/internal/model"
	"github.com/sakif/scene-capture/internal/service"
)

// multipartMemory is how much of a multipart body ParseMultipartForm keeps
// in memory; larger file parts spill to temporary files.
const multipartMemory = 8 << 20

// SceneHandler exposes scene CRUD over HTTP.
//
// WHAT THE HANDLER DOES (and nothing more):
//  1. Pull the caller's identity out of the request context
//  2. Turn the body (multipart, urlencoded or JSON) into service input
//  3. Call the service
//  4. Write the result or the error
//
// Access rules, defaults and validation all live in service.SceneService.
type SceneHandler struct {
	scenes *service.SceneService
	logger *slog.Logger
}

// NewSceneHandler creates a SceneHandler.
func NewSceneHandler(scenes *service.SceneService, logger *slog.Logger) *SceneHandler {
	return &SceneHandler{scenes: scenes, logger: logger}
}

// CreateSceneResponse is the 201 body for POST /api/scenes.
type CreateSceneResponse struct {
	Message string       `json:"message"`
	SceneID string       `json:"sceneId"`
	Scene   *model.Scene `json:"scene"`
}

// UpdateSceneResponse is the body for PUT /api/scenes/{id}.
type UpdateSceneResponse struct {
	Message string       `json:"message"`
	Scene   *model.Scene `json:"scene"`
}

// HandleCreate stores a new scene owned by the caller.
//
// HTTP: POST /api/scenes
// Auth: Required
// BODY: multipart/form-data (audio in the "audioFile" part),
// application/x-www-form-urlencoded, or JSON.
func (h *SceneHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r)

	in, err := parseSceneInput(r)
	if err != nil {
		writeError(w, err)
		return
	}

	scene, err := h.scenes.Create(r.Context(), viewer, in.newScene())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateSceneResponse{
		Message: "Scene saved successfully",
		SceneID: scene.ID,
		Scene:   scene,
	})
}

// HandleList returns the scenes the caller can see, newest first.
//
// HTTP: GET /api/scenes?limit=50&offset=0
// Auth: Required
//
// RESPONSE: a JSON array. Audio bytes are left out; "hasAudio" tells the
// client whether GET /api/scenes/{id}/audio has anything to serve.
func (h *SceneHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	scenes, err := h.scenes.List(r.Context(), viewerFrom(r), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, scenes)
}

// HandleGet returns one scene, audio included.
//
// HTTP: GET /api/scenes/{id}
// Auth: Optional (public scenes are readable anonymously)
func (h *SceneHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	scene, err := h.scenes.Get(r.Context(), viewerFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

// HandleAudio serves the raw recording with its stored MIME type, so an
// <audio src="..."> element can play it directly.
//
// HTTP: GET /api/scenes/{id}/audio
// Auth: Optional
func (h *SceneHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	audio, err := h.scenes.GetAudio(r.Context(), viewerFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", audio.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.Header().Set("Cache-Control", "private, no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio.Data); err != nil {
		h.logger.Warn("writing audio response", slog.String("error", err.Error()))
	}
}

// HandleUpdate applies a sparse update. Fields missing from the body are
// left unchanged; "clearAudio=true" removes the recording unless a new
// "audioFile" came with the same request.
//
// HTTP: PUT /api/scenes/{id}
// Auth: Required (owner only)
func (h *SceneHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	in, err := parseSceneInput(r)
	if err != nil {
		writeError(w, err)
		return
	}

	scene, err := h.scenes.Update(r.Context(), viewerFrom(r), r.PathValue("id"), in.sceneUpdate())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UpdateSceneResponse{
		Message: "Scene updated successfully",
		Scene:   scene,
	})
}

// HandleDelete removes a scene.
//
// HTTP: DELETE /api/scenes/{id}
// Auth: Required (owner only)
func (h *SceneHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.scenes.Delete(r.Context(), viewerFrom(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Scene deleted successfully"})
}

// viewerFrom returns the caller's identity, or "" for anonymous requests.
func viewerFrom(r *http.Request) model.UserID {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(key, key+" must be an integer")
	}
	return n, nil
}

// =========================================================================
// REQUEST PARSING
// =========================================================================
//
// Every field is optional at this layer; a nil pointer means "not sent".
// Create turns "not sent" into defaults, Update into "leave unchanged".

type sceneInput struct {
	videoURL   *string
	start      *float64
	end        *float64
	transcript *string
	isPublic   *bool
	clearAudio bool
	audio      *model.AudioPayload
}

func (in *sceneInput) newScene() model.NewScene {
	ns := model.NewScene{Audio: in.audio}
	if in.videoURL != nil {
		ns.VideoURL = *in.videoURL
	}
	if in.start != nil {
		ns.StartTimecode = *in.start
	}
	if in.end != nil {
		ns.EndTimecode = *in.end
	}
	if in.transcript != nil {
		ns.Transcript = *in.transcript
	}
	if in.isPublic != nil {
		ns.IsPublic = *in.isPublic
	}
	return ns
}

func (in *sceneInput) sceneUpdate() model.SceneUpdate {
	return model.SceneUpdate{
		VideoURL:      in.videoURL,
		StartTimecode: in.start,
		EndTimecode:   in.end,
		Transcript:    in.transcript,
		IsPublic:      in.isPublic,
		Audio:         in.audio,
		ClearAudio:    in.clearAudio,
	}
}

// parseSceneInput picks a decoder from the Content-Type header. Anything
// that isn't a form is treated as JSON.
func parseSceneInput(r *http.Request) (*sceneInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, bodyError(err)
		}
		defer r.MultipartForm.RemoveAll()

		in, err := sceneInputFromValues(url.Values(r.MultipartForm.Value))
		if err != nil {
			return nil, err
		}
		in.audio, err = audioFromMultipart(r)
		if err != nil {
			return nil, err
		}
		return in, nil

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, bodyError(err)
		}
		return sceneInputFromValues(r.PostForm)

	default:
		return sceneInputFromJSON(r)
	}
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.ValidationFailed("", "request body too large")
	}
	return apperror.ValidationFailed("", "malformed request body")
}

func sceneInputFromValues(values url.Values) (*sceneInput, error) {
	in := &sceneInput{}

	// "youtubeLink" is the field name older clients send.
	if v, ok := formValue(values, "videoUrl"); ok {
		in.videoURL = &v
	} else if v, ok := formValue(values, "youtubeLink"); ok {
		in.videoURL = &v
	}
	if v, ok := formValue(values, "transcript"); ok {
		in.transcript = &v
	}

	var err error
	if in.start, err = parseFloatField(values, "startTimecode"); err != nil {
		return nil, err
	}
	if in.end, err = parseFloatField(values, "endTimecode"); err != nil {
		return nil, err
	}
	in.isPublic = parseBoolField(values, "isPublic")
	clearFlag := parseBoolField(values, "clearAudio")
	in.clearAudio = clearFlag != nil && *clearFlag
	return in, nil
}

func formValue(values url.Values, key string) (string, bool) {
	v, ok := values[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// parseFloatField reads a numeric form field. Blank counts as not sent.
func parseFloatField(values url.Values, key string) (*float64, error) {
	raw, ok := formValue(values, key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperror.ValidationFailed(key, key+" must be a number")
	}
	return &f, nil
}

// parseBoolField reads a checkbox-style form field. Blank counts as not sent.
func parseBoolField(values url.Values, key string) *bool {
	raw, ok := formValue(values, key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return nil
	}
	b := coerceBool(raw)
	return &b
}

// coerceBool is true for the strconv.ParseBool spellings of true ("true",
// "1", "TRUE", ...). Any other value is false, never an error: clients
// send whatever their form widget produces.
func coerceBool(raw string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}

// audioFromMultipart reads the "audioFile" part, if any.
//
// MIME TYPE:
// Browsers usually label MediaRecorder uploads (audio/webm, audio/ogg).
// When the part has no type or the generic application/octet-stream, we
// sniff the bytes with mimetype instead of storing a useless label.
func audioFromMultipart(r *http.Request) (*model.AudioPayload, error) {
	file, header, err := r.FormFile("audioFile")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, bodyError(err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, bodyError(err)
	}

	return &model.AudioPayload{
		Data:     data,
		MimeType: audioMimeType(header.Header.Get("Content-Type"), data),
	}, nil
}

func audioMimeType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(data).String()
}

// sceneJSON is the JSON body shape. Numbers and booleans arrive as raw
// JSON so both 1.5 and "1.5" (and true and "true") are accepted, the same
// leniency the form encodings get.
type sceneJSON struct {
	VideoURL      *string             `json:"videoUrl"`
	YoutubeLink   *string             `json:"youtubeLink"`
	StartTimecode json.RawMessage     `json:"startTimecode"`
	EndTimecode   json.RawMessage     `json:"endTimecode"`
	Transcript    *string             `json:"transcript"`
	IsPublic      json.RawMessage     `json:"isPublic"`
	ClearAudio    json.RawMessage     `json:"clearAudio"`
	Audio         *model.AudioPayload `json:"audio"`
}

func sceneInputFromJSON(r *http.Request) (*sceneInput, error) {
	var body sceneJSON
	if err := decodeJSON(r, &body); err != nil {
		return nil, err
	}

	in := &sceneInput{
		videoURL:   body.VideoURL,
		transcript: body.Transcript,
		audio:      body.Audio,
	}
	if in.videoURL == nil {
		in.videoURL = body.YoutubeLink
	}
	if in.audio != nil && len(in.audio.Data) > 0 {
		in.audio.MimeType = audioMimeType(in.audio.MimeType, in.audio.Data)
	}

	var err error
	if in.start, err = jsonFloat("startTimecode", body.StartTimecode); err != nil {
		return nil, err
	}
	if in.end, err = jsonFloat("endTimecode", body.EndTimecode); err != nil {
		return nil, err
	}
	in.isPublic = jsonBool(body.IsPublic)
	clearFlag := jsonBool(body.ClearAudio)
	in.clearAudio = clearFlag != nil && *clearFlag
	return in, nil
}

func jsonFloat(field string, raw json.RawMessage) (*float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloatField(url.Values{field: {s}}, field)
	}
	return nil, apperror.ValidationFailed(field, field+" must be a number")
}

// jsonBool accepts a JSON boolean or anything coerceBool understands, so
// "true" and 1 work as well as true.
func jsonBool(raw json.RawMessage) *bool {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		b = coerceBool(s)
		return &b
	}
	b = coerceBool(string(raw))
	return &b
}
