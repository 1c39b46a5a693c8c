package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"

	"detect-web/common/config"
	"detect-web/common/log"
	"detect-web/common/media"
	"detect-web/common/store"
)

const (
	msgNoVideo        = "Please upload a video before detecting."
	msgVideoFailed    = "❌ Video processing failed."
	videoContentType  = "video/mp4"
	videoDownloadName = "detected_video.mp4"
)

// handleVideoDetect spools the upload to disk and streams it to the backend.
func (ws *WebServer) handleVideoDetect(w http.ResponseWriter, r *http.Request) {
	sess := ws.session(w, r)
	if err := ws.parseForm(w, r); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid upload", err)
		return
	}
	defer cleanupForm(r)

	params, err := formParams(r)
	if err != nil {
		respondWarning(w, http.StatusBadRequest, msgInvalidParams)
		return
	}

	file, _, err := r.FormFile("video")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			respondWarning(w, http.StatusBadRequest, msgNoVideo)
			return
		}
		respondError(w, http.StatusBadRequest, "Failed to read upload", err)
		return
	}
	uploadPath, err := ws.Spooler.SpoolUpload(file)
	file.Close()
	if err != nil {
		log.Error(fmt.Sprintf("session %s: failed to spool video upload: %v", sess.ID, err))
		respondError(w, http.StatusInternalServerError, msgVideoFailed, err)
		return
	}
	defer func() {
		if err := media.Remove(uploadPath); err != nil {
			log.Warn(fmt.Sprintf("failed to remove upload %s: %v", uploadPath, err))
		}
	}()

	gen, err := sess.Begin(store.SourceVideo)
	if err != nil {
		log.Warn(fmt.Sprintf("session %s: failed to clean up results: %v", sess.ID, err))
	}

	result, err := ws.detectVideoFile(r.Context(), uploadPath, params)
	if err != nil {
		log.Error(fmt.Sprintf("session %s: video detection failed: %v", sess.ID, err))
		respondError(w, http.StatusBadGateway, msgVideoFailed, err)
		return
	}
	if !storeResult(w, sess, sess.SetVideoResult(gen, store.SourceVideo, result)) {
		return
	}
	log.Info(fmt.Sprintf("session %s: video processed (%d bytes)", sess.ID, len(result.Data)))
	respondSuccess(w, msgDetectionDone, map[string]int{"size": len(result.Data)})
}

func (ws *WebServer) detectVideoFile(ctx context.Context, path string, params config.Params) (*store.VideoResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reopen upload")
	}
	defer f.Close()

	body, err := ws.Client.DetectVideo(ctx, f, params)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	resultPath, data, err := ws.Spooler.PersistResult(body)
	if err != nil {
		return nil, err
	}
	return &store.VideoResult{Path: resultPath, Data: data}, nil
}

// videoResult returns the stored result for src, or writes a warning.
func (ws *WebServer) videoResult(w http.ResponseWriter, r *http.Request, src store.SourceType) *store.VideoResult {
	sess := ws.session(w, r)
	var res *store.VideoResult
	sess.Read(func(st *store.State) {
		if src == store.SourceYouTube {
			res = st.YouTube
		} else {
			res = st.Video
		}
	})
	if res == nil {
		msg := msgNoVideo
		if src == store.SourceYouTube {
			msg = msgYouTubeNoResult
		}
		respondWarning(w, http.StatusNotFound, msg)
	}
	return res
}

func serveVideo(w http.ResponseWriter, r *http.Request, res *store.VideoResult) {
	w.Header().Set("Content-Type", videoContentType)
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(res.Data))
}

func (ws *WebServer) handleVideoResult(w http.ResponseWriter, r *http.Request) {
	if res := ws.videoResult(w, r, store.SourceVideo); res != nil {
		serveVideo(w, r, res)
	}
}

func (ws *WebServer) handleVideoDownload(w http.ResponseWriter, r *http.Request) {
	if res := ws.videoResult(w, r, store.SourceVideo); res != nil {
		serveDownload(w, videoContentType, videoDownloadName, res.Data)
	}
}
