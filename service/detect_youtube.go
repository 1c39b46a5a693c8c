package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"detect-web/common/config"
	"detect-web/common/log"
	"detect-web/common/store"
)

const (
	msgYouTubeNoURL     = "❌ Please enter a YouTube URL before detecting."
	msgYouTubeDone      = "✅ YouTube processed successfully."
	msgYouTubeNoResult  = "No YouTube video processed yet."
	youTubeDownloadName = "youtube_processed.mp4"
)

type youTubeForm struct {
	URL        string      `json:"url"`
	Confidence interface{} `json:"confidence"`
	Tracker    string      `json:"tracker"`
}

// handleYouTubeDetect has the backend download and process a YouTube video.
func (ws *WebServer) handleYouTubeDetect(w http.ResponseWriter, r *http.Request) {
	sess := ws.session(w, r)

	var form youTubeForm
	if isJSON(r) {
		if err := decodeJSON(w, r, &form); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	} else {
		if err := ws.parseForm(w, r); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		defer cleanupForm(r)
		form = youTubeForm{URL: r.FormValue("url"), Confidence: r.FormValue("confidence"), Tracker: r.FormValue("tracker")}
	}

	videoURL := strings.TrimSpace(form.URL)
	if videoURL == "" {
		respondError(w, http.StatusBadRequest, msgYouTubeNoURL, nil)
		return
	}
	params, err := config.ParseParams(cast.ToString(form.Confidence), form.Tracker)
	if err != nil {
		respondWarning(w, http.StatusBadRequest, msgInvalidParams)
		return
	}

	gen, err := sess.Begin(store.SourceYouTube)
	if err != nil {
		log.Warn(fmt.Sprintf("session %s: failed to clean up results: %v", sess.ID, err))
	}

	result, err := ws.detectYouTube(r.Context(), videoURL, params)
	if err != nil {
		var be *BackendError
		if errors.As(err, &be) {
			log.Warn(fmt.Sprintf("session %s: youtube rejected by backend (status %d)", sess.ID, be.Status))
			respondError(w, http.StatusBadGateway, be.ServerMessage(), err)
			return
		}
		log.Error(fmt.Sprintf("session %s: youtube processing failed: %v", sess.ID, err))
		respondError(w, http.StatusBadGateway, fmt.Sprintf("❌ Error: %v", err), err)
		return
	}
	if !storeResult(w, sess, sess.SetVideoResult(gen, store.SourceYouTube, result)) {
		return
	}
	log.Info(fmt.Sprintf("session %s: youtube video processed (%d bytes)", sess.ID, len(result.Data)))
	respondSuccess(w, msgYouTubeDone, map[string]int{"size": len(result.Data)})
}

func (ws *WebServer) detectYouTube(ctx context.Context, videoURL string, params config.Params) (*store.VideoResult, error) {
	body, err := ws.Client.DetectYouTube(ctx, videoURL, params)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	path, data, err := ws.Spooler.PersistResult(body)
	if err != nil {
		return nil, err
	}
	return &store.VideoResult{Path: path, Data: data}, nil
}

func (ws *WebServer) handleYouTubeResult(w http.ResponseWriter, r *http.Request) {
	if res := ws.videoResult(w, r, store.SourceYouTube); res != nil {
		serveVideo(w, r, res)
	}
}

func (ws *WebServer) handleYouTubeDownload(w http.ResponseWriter, r *http.Request) {
	if res := ws.videoResult(w, r, store.SourceYouTube); res != nil {
		serveDownload(w, videoContentType, youTubeDownloadName, res.Data)
	}
}
