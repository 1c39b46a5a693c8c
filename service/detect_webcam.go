package service

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"detect-web/common/log"
	"detect-web/common/media"
	"detect-web/common/store"
)

// FrameProcessedHeader tells the page whether a frame response came back
// from the backend or is the input passed through.
const FrameProcessedHeader = "X-Frame-Processed"

const (
	msgWebcamNotReady = "Webcam not started or processor not ready yet."
	msgNoFrameYet     = "No processed frame yet. Wait a moment."
	msgNoCapture      = "No frame captured yet."
	capturedName      = "captured_frame.jpg"
)

func (ws *WebServer) handleWebcamStart(w http.ResponseWriter, r *http.Request) {
	sess := ws.session(w, r)
	if err := ws.parseForm(w, r); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	defer cleanupForm(r)

	params, err := formParams(r)
	if err != nil {
		respondWarning(w, http.StatusBadRequest, msgInvalidParams)
		return
	}

	gen, err := sess.Begin(store.SourceWebcam)
	if err != nil {
		log.Warn(fmt.Sprintf("session %s: failed to clean up results: %v", sess.ID, err))
	}
	proc := NewWebcamProcessor(ws.Client, params, ws.Config.FrameInterval.Std(), ws.Clock)
	sess.Read(func(st *store.State) {
		if prev, ok := st.Webcam.Processor.(*WebcamProcessor); ok && st.Generation == gen {
			proc.takeOver(prev)
		}
	})
	if !storeResult(w, sess, sess.StartWebcam(gen, proc)) {
		return
	}
	log.Info(fmt.Sprintf("session %s: webcam started (conf=%s, tracker=%q)", sess.ID, params.ConfString(), params.Tracker))
	respondSuccess(w, "", newStateView(sess.Snapshot()))
}

func (ws *WebServer) handleWebcamStop(w http.ResponseWriter, r *http.Request) {
	sess := ws.session(w, r)
	sess.StopWebcam()
	log.Info(fmt.Sprintf("session %s: webcam stopped", sess.ID))
	respondSuccess(w, "", newStateView(sess.Snapshot()))
}

// readFrame accepts either a raw image body or a multipart field "frame".
func (ws *WebServer) readFrame(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := ws.parseForm(w, r); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("frame")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, ws.Config.MaxUploadBytes()))
}

// handleWebcamFrame is the per-frame callback. It always answers with an
// image: the annotated frame, or the input when throttled or on failure.
func (ws *WebServer) handleWebcamFrame(w http.ResponseWriter, r *http.Request) {
	sess := ws.session(w, r)
	defer cleanupForm(r)

	proc, ok := sess.WebcamProcessor().(*WebcamProcessor)
	if !ok || proc == nil {
		respondWarning(w, http.StatusConflict, msgWebcamNotReady)
		return
	}

	frame, err := ws.readFrame(w, r)
	if err != nil || len(frame) == 0 {
		respondWarning(w, http.StatusBadRequest, "Empty frame")
		return
	}

	out, processed := proc.Process(r.Context(), frame)
	w.Header().Set(FrameProcessedHeader, strconv.FormatBool(processed))
	contentType := "image/jpeg"
	if !processed {
		contentType = http.DetectContentType(out)
	}
	serveBytes(w, contentType, out)
}

// handleWebcamCapture freezes the most recent annotated frame.
func (ws *WebServer) handleWebcamCapture(w http.ResponseWriter, r *http.Request) {
	sess := ws.session(w, r)

	var proc store.FrameSource
	var gen uint64
	sess.Read(func(st *store.State) {
		proc = st.Webcam.Processor
		gen = st.Generation
	})
	if proc == nil {
		respondWarning(w, http.StatusConflict, msgWebcamNotReady)
		return
	}
	frame, ok := proc.LastFrame()
	if !ok {
		respondWarning(w, http.StatusConflict, msgNoFrameYet)
		return
	}

	preview, err := media.CaptureOverlayJPEG(frame.Data, frame.At)
	if err != nil {
		log.Warn(fmt.Sprintf("session %s: capture overlay failed: %v", sess.ID, err))
		preview = frame.Data
	}

	if !storeResult(w, sess, sess.SetCaptured(gen, &store.CapturedFrame{Frame: frame, Preview: preview})) {
		return
	}
	respondSuccess(w, "Frame captured.", map[string]string{"captured_at": frame.At.Format("2006-01-02 15:04:05")})
}

func (ws *WebServer) captured(w http.ResponseWriter, r *http.Request) *store.CapturedFrame {
	sess := ws.session(w, r)
	var c *store.CapturedFrame
	sess.Read(func(st *store.State) { c = st.Webcam.Captured })
	if c == nil {
		respondWarning(w, http.StatusNotFound, msgNoCapture)
	}
	return c
}

func (ws *WebServer) handleWebcamCaptured(w http.ResponseWriter, r *http.Request) {
	if c := ws.captured(w, r); c != nil {
		serveBytes(w, "image/jpeg", c.Preview)
	}
}

func (ws *WebServer) handleWebcamDownload(w http.ResponseWriter, r *http.Request) {
	if c := ws.captured(w, r); c != nil {
		serveDownload(w, "image/jpeg", capturedName, c.Frame.Data)
	}
}
