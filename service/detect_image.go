package service

import (
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"detect-web/common/log"
	"detect-web/common/media"
	"detect-web/common/store"
)

const (
	msgNoImage         = "Please upload an image before detecting."
	msgDetectionFailed = "❌ Detection failed."
	msgDetectionDone   = "✅ Detection completed."
)

// readUpload returns the bytes of the named multipart file. ok is false when
// a response has already been written.
func (ws *WebServer) readUpload(w http.ResponseWriter, r *http.Request, field, missing string) (data []byte, ok bool) {
	file, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			respondWarning(w, http.StatusBadRequest, missing)
			return nil, false
		}
		respondError(w, http.StatusBadRequest, "Failed to read upload", err)
		return nil, false
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read upload", err)
		return nil, false
	}
	if len(data) == 0 {
		respondWarning(w, http.StatusBadRequest, missing)
		return nil, false
	}
	return data, true
}

// handleImageDetect sends the uploaded image to the backend and keeps the
// annotated result, resized back to the upload's dimensions.
func (ws *WebServer) handleImageDetect(w http.ResponseWriter, r *http.Request) {
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
	upload, ok := ws.readUpload(w, r, "image", msgNoImage)
	if !ok {
		return
	}

	jpegData, size, err := media.ToJPEG(upload)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Uploaded file is not a supported image.", err)
		return
	}

	gen, err := sess.Begin(store.SourceImage)
	if err != nil {
		log.Warn(fmt.Sprintf("session %s: failed to clean up results: %v", sess.ID, err))
	}

	raw, err := ws.Client.DetectImage(r.Context(), jpegData, params)
	if err != nil {
		log.Error(fmt.Sprintf("session %s: image detection failed: %v", sess.ID, err))
		respondError(w, http.StatusBadGateway, msgDetectionFailed, err)
		return
	}
	display, err := media.ResizeJPEG(raw, size)
	if err != nil {
		log.Error(fmt.Sprintf("session %s: backend returned an unreadable image: %v", sess.ID, err))
		respondError(w, http.StatusBadGateway, msgDetectionFailed, err)
		return
	}

	result := &store.ImageResult{Raw: raw, Display: display, OriginalSize: size}
	if !storeResult(w, sess, sess.SetImageResult(gen, result)) {
		return
	}
	log.Info(fmt.Sprintf("session %s: image detected (%dx%d, conf=%s, tracker=%q)",
		sess.ID, size.X, size.Y, params.ConfString(), params.Tracker))
	respondSuccess(w, msgDetectionDone, map[string]int{"width": size.X, "height": size.Y})
}

func (ws *WebServer) imageResult(w http.ResponseWriter, r *http.Request) *store.ImageResult {
	sess := ws.session(w, r)
	var res *store.ImageResult
	sess.Read(func(st *store.State) { res = st.Image })
	if res == nil {
		respondWarning(w, http.StatusNotFound, msgNoImage)
	}
	return res
}

func (ws *WebServer) handleImageResult(w http.ResponseWriter, r *http.Request) {
	if res := ws.imageResult(w, r); res != nil {
		serveBytes(w, "image/jpeg", res.Display)
	}
}

func (ws *WebServer) handleImageDownload(w http.ResponseWriter, r *http.Request) {
	if res := ws.imageResult(w, r); res != nil {
		serveDownload(w, "image/jpeg", "detected_image.jpg", res.Raw)
	}
}
