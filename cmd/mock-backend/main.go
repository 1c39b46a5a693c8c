// Command mock-backend is a local stand-in for the remote detection API. It
// outlines a fixed box on images and frames and echoes videos back.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cast"

	"detect-web/common/log"
	"detect-web/common/media"
)

const DefaultPort = 8000

// youTubeFixture is a local mp4 returned for every valid YouTube request.
var youTubeFixture = os.Getenv("YOUTUBE_FIXTURE")

func main() {
	port := DefaultPort
	if s, ok := os.LookupEnv("MOCK_PORT"); ok {
		if p, err := cast.ToIntE(s); err == nil && p > 0 && p <= 65535 {
			port = p
		} else {
			log.Warn(fmt.Sprintf("invalid MOCK_PORT %q, using %d", s, DefaultPort))
		}
	}
	defer log.Close()

	log.Info(fmt.Sprintf("mock detection backend listening on :%d", port))
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), cors.AllowAll().Handler(newRouter())); err != nil {
		log.Error(err.Error())
	}
}

func newRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/detect/image", handleImage).Methods("POST")
	router.HandleFunc("/detect/frame", handleFrame).Methods("POST")
	router.HandleFunc("/detect/video", handleVideo).Methods("POST")
	router.HandleFunc("/detect/youtube", handleYouTube).Methods("POST")
	return router
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// annotateUpload reads the multipart file field and returns it with a
// labelled box drawn in the middle.
func annotateUpload(r *http.Request, field string) ([]byte, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	img, err := media.Decode(data)
	if err != nil {
		return nil, err
	}

	conf := cast.ToFloat64(r.FormValue("conf"))
	label := "object"
	if tracker := r.FormValue("tracker"); tracker != "" {
		label = "object#1"
	}
	out := media.DrawDetections(img, []media.Detection{{
		Class:      label,
		Confidence: conf,
		Box:        media.CenterBox(img.Bounds().Size()),
	}})
	log.Debug(fmt.Sprintf("%s: annotated %dx%d upload (conf=%v tracker=%q)",
		r.URL.Path, img.Bounds().Dx(), img.Bounds().Dy(), conf, r.FormValue("tracker")))
	return media.EncodeJPEG(out)
}

func handleImage(w http.ResponseWriter, r *http.Request) {
	out, err := annotateUpload(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"result": base64.StdEncoding.EncodeToString(out)})
}

func handleFrame(w http.ResponseWriter, r *http.Request) {
	out, err := annotateUpload(r, "frame")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(out)
}

// handleVideo returns the upload unchanged; there is no video codec here.
func handleVideo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	file, _, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "video/mp4")
	n, err := io.Copy(w, file)
	if err != nil {
		log.Warn(fmt.Sprintf("failed to echo video: %v", err))
		return
	}
	log.Info(fmt.Sprintf("echoed %d byte video", n))
}

func handleYouTube(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string  `json:"url"`
		Conf    float64 `json:"conf"`
		Tracker string  `json:"tracker"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !strings.Contains(req.URL, "youtube.com/") && !strings.Contains(req.URL, "youtu.be/") {
		writeError(w, http.StatusBadRequest, "Invalid YouTube URL")
		return
	}
	if youTubeFixture == "" {
		writeError(w, http.StatusNotImplemented, "YOUTUBE_FIXTURE is not set on the mock backend")
		return
	}
	f, err := os.Open(youTubeFixture)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp4")
	io.Copy(w, f)
	log.Info(fmt.Sprintf("served %s for %s", youTubeFixture, req.URL))
}
