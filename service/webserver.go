package service

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"

	"detect-web/common/config"
	"detect-web/common/log"
	"detect-web/common/media"
	"detect-web/common/store"
)

// SessionCookie carries the session id.
const SessionCookie = "detect_session"

const multipartMemory = 32 << 20

//go:embed templates/index.html
var embeddedIndex []byte

// HTMLTemplates holds cached HTML content
type HTMLTemplates struct {
	index []byte
}

// loadHTMLTemplates reads the page from the templates directory, falling
// back to the copy built into the binary.
func loadHTMLTemplates(dir string) *HTMLTemplates {
	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		log.Debug(fmt.Sprintf("using built-in index.html: %v", err))
		return &HTMLTemplates{index: embeddedIndex}
	}
	log.Info(fmt.Sprintf("loaded index.html from %s", dir))
	return &HTMLTemplates{index: data}
}

// WebServer handles the browser-facing UI and API.
type WebServer struct {
	Config    *config.Config
	Client    *DetectionClient
	Sessions  *store.Registry
	Spooler   media.Spooler
	Clock     clock.Clock
	Templates *HTMLTemplates
}

// NewWebServer creates a new web server
func NewWebServer(cfg *config.Config, client *DetectionClient, sessions *store.Registry) *WebServer {
	return &WebServer{
		Config:    cfg,
		Client:    client,
		Sessions:  sessions,
		Spooler:   media.Spooler{Dir: cfg.TempDir},
		Clock:     clock.New(),
		Templates: loadHTMLTemplates(config.TemplatesDir),
	}
}

// Handler builds the router.
func (ws *WebServer) Handler() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ping", ws.handleAPIPing).Methods("GET")
	api.HandleFunc("/state", ws.handleAPIState).Methods("GET")
	api.HandleFunc("/source", ws.handleAPISource).Methods("POST")

	api.HandleFunc("/image/detect", ws.handleImageDetect).Methods("POST")
	api.HandleFunc("/image/result", ws.handleImageResult).Methods("GET")
	api.HandleFunc("/image/download", ws.handleImageDownload).Methods("GET")

	api.HandleFunc("/video/detect", ws.handleVideoDetect).Methods("POST")
	api.HandleFunc("/video/result", ws.handleVideoResult).Methods("GET")
	api.HandleFunc("/video/download", ws.handleVideoDownload).Methods("GET")

	api.HandleFunc("/webcam/start", ws.handleWebcamStart).Methods("POST")
	api.HandleFunc("/webcam/stop", ws.handleWebcamStop).Methods("POST")
	api.HandleFunc("/webcam/frame", ws.handleWebcamFrame).Methods("POST")
	api.HandleFunc("/webcam/capture", ws.handleWebcamCapture).Methods("POST")
	api.HandleFunc("/webcam/captured", ws.handleWebcamCaptured).Methods("GET")
	api.HandleFunc("/webcam/download", ws.handleWebcamDownload).Methods("GET")

	api.HandleFunc("/youtube/detect", ws.handleYouTubeDetect).Methods("POST")
	api.HandleFunc("/youtube/result", ws.handleYouTubeResult).Methods("GET")
	api.HandleFunc("/youtube/download", ws.handleYouTubeDownload).Methods("GET")

	router.HandleFunc("/", ws.handleIndex).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{FrameProcessedHeader},
		AllowCredentials: false,
	})
	return c.Handler(router)
}

// handleIndex serves the single page UI
func (ws *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	ws.session(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(ws.Templates.index)
}

// Response levels, mirrored by the page's message colours.
const (
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Level   string      `json:"level,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warn(fmt.Sprintf("failed to encode response: %v", err))
	}
}

func respondSuccess(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Level: LevelSuccess, Message: message, Data: data})
}

// respondWarning reports missing or invalid user input. No backend call was made.
func respondWarning(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIResponse{Success: false, Level: LevelWarning, Message: message})
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := APIResponse{Success: false, Level: LevelError, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

// session returns the caller's session, issuing a new cookie when the
// request has none or the old session expired.
func (ws *WebServer) session(w http.ResponseWriter, r *http.Request) *store.Session {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	s, created := ws.Sessions.GetOrCreate(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    s.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return s
}

// parseForm reads a multipart or urlencoded body within the upload limit.
// A body of any other type is left unread.
func (ws *WebServer) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, ws.Config.MaxUploadBytes())
	err := r.ParseMultipartForm(multipartMemory)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return errors.Wrap(err, "failed to parse form")
	}
	return nil
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Warn(fmt.Sprintf("failed to remove multipart files: %v", err))
		}
	}
}

func formParams(r *http.Request) (config.Params, error) {
	return config.ParseParams(r.FormValue("confidence"), r.FormValue("tracker"))
}

const msgInvalidParams = "Invalid confidence or tracker selection."

func serveBytes(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func serveDownload(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	serveBytes(w, contentType, data)
}

// handleAPIPing returns basic liveness info
func (ws *WebServer) handleAPIPing(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"timestamp":   ws.Clock.Now().Format(time.RFC3339),
		"backend_url": ws.Client.BaseURL(),
		"sessions":    ws.Sessions.Len(),
	}
	respondSuccess(w, "pong", info)
}

// Controls describes the sidebar inputs.
type Controls struct {
	MinConfidence     int      `json:"min_confidence"`
	MaxConfidence     int      `json:"max_confidence"`
	DefaultConfidence int      `json:"default_confidence"`
	Trackers          []string `json:"trackers"`
	Sources           []string `json:"sources"`
}

func defaultControls() Controls {
	c := Controls{
		MinConfidence:     config.MinConfidencePercent,
		MaxConfidence:     config.MaxConfidencePercent,
		DefaultConfidence: config.DefaultConfidencePercent,
	}
	for _, t := range config.Trackers {
		c.Trackers = append(c.Trackers, string(t))
	}
	for _, s := range store.Sources {
		c.Sources = append(c.Sources, s.String())
	}
	return c
}

// StateView is what the page needs to render a session.
type StateView struct {
	Source      string       `json:"source,omitempty"`
	Media       string       `json:"media,omitempty"`
	HasImage    bool         `json:"has_image"`
	ImageWidth  int          `json:"image_width,omitempty"`
	ImageHeight int          `json:"image_height,omitempty"`
	HasVideo    bool         `json:"has_video"`
	HasYouTube  bool         `json:"has_youtube"`
	Streaming   bool         `json:"streaming"`
	HasCaptured bool         `json:"has_captured"`
	Webcam      *WebcamStats `json:"webcam,omitempty"`
	Controls    Controls     `json:"controls"`
}

func newStateView(st store.State) StateView {
	v := StateView{
		Media:       st.Media.String(),
		HasImage:    st.Image != nil,
		HasVideo:    st.Video != nil,
		HasYouTube:  st.YouTube != nil,
		Streaming:   st.Webcam.Streaming(),
		HasCaptured: st.Webcam.Captured != nil,
		Controls:    defaultControls(),
	}
	if st.HasSource {
		v.Source = st.Source.String()
	}
	if st.Image != nil {
		v.ImageWidth = st.Image.OriginalSize.X
		v.ImageHeight = st.Image.OriginalSize.Y
	}
	if wp, ok := st.Webcam.Processor.(*WebcamProcessor); ok {
		stats := wp.Stats()
		v.Webcam = &stats
	}
	return v
}

func (ws *WebServer) handleAPIState(w http.ResponseWriter, r *http.Request) {
	sess := ws.session(w, r)
	respondSuccess(w, "", newStateView(sess.Snapshot()))
}

type sourceRequest struct {
	Source string `json:"source"`
}

// handleAPISource switches the input mode
func (ws *WebServer) handleAPISource(w http.ResponseWriter, r *http.Request) {
	sess := ws.session(w, r)

	var req sourceRequest
	if isJSON(r) {
		if err := decodeJSON(w, r, &req); err != nil {
			respondWarning(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		req.Source = r.FormValue("source")
	}

	src, err := store.ParseSource(req.Source)
	if err != nil {
		respondWarning(w, http.StatusBadRequest, fmt.Sprintf("Unknown source %q", req.Source))
		return
	}

	changed, err := sess.SelectSource(src)
	if err != nil {
		log.Warn(fmt.Sprintf("session %s: failed to clean up results: %v", sess.ID, err))
	}
	if changed {
		log.Info(fmt.Sprintf("session %s switched source to %s", sess.ID, src))
	}
	respondSuccess(w, "", map[string]interface{}{
		"changed": changed,
		"state":   newStateView(sess.Snapshot()),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		return errors.Wrap(err, "failed to decode JSON body")
	}
	return nil
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// storeResult maps a rejected result to a response. It reports whether the
// caller should go on to answer with success.
func storeResult(w http.ResponseWriter, sess *store.Session, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrSourceChanged) {
		respondWarning(w, http.StatusConflict, "Source changed before detection finished.")
		return false
	}
	log.Error(fmt.Sprintf("session %s: failed to store result: %v", sess.ID, err))
	respondError(w, http.StatusInternalServerError, "Failed to store result", err)
	return false
}
