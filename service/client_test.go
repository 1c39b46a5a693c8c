package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"detect-web/common/config"
	"detect-web/common/media"
)

// recorded is what the fake backend saw for one request.
type recorded struct {
	Path      string
	Fields    map[string]string
	FileField string
	FileName  string
	File      []byte
	JSON      map[string]interface{}
}

type fakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recorded
}

func newFakeBackend(t *testing.T, respond func(w http.ResponseWriter, rec recorded)) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{Path: r.URL.Path, Fields: map[string]string{}}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			for k, v := range r.MultipartForm.Value {
				rec.Fields[k] = v[0]
			}
			for field, headers := range r.MultipartForm.File {
				f, err := headers[0].Open()
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				rec.File, _ = io.ReadAll(f)
				f.Close()
				rec.FileField = field
				rec.FileName = headers[0].Filename
			}
		} else {
			json.NewDecoder(r.Body).Decode(&rec.JSON)
		}

		fb.mu.Lock()
		fb.requests = append(fb.requests, rec)
		fb.mu.Unlock()
		respond(w, rec)
	}))
	t.Cleanup(fb.Close)
	return fb
}

func (fb *fakeBackend) Requests() []recorded {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]recorded(nil), fb.requests...)
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	data, err := media.EncodeJPEG(img)
	test.That(t, err, test.ShouldBeNil)
	return data
}

func imageResponse(data []byte) func(w http.ResponseWriter, rec recorded) {
	return func(w http.ResponseWriter, rec recorded) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"result": base64.StdEncoding.EncodeToString(data)})
	}
}

func TestDetectImageSendsMultipart(t *testing.T) {
	annotated := testJPEG(t, 320, 240)
	backend := newFakeBackend(t, imageResponse(annotated))
	client := NewDetectionClient(backend.URL+"/", 0, time.Second)

	upload := testJPEG(t, 640, 480)
	got, err := client.DetectImage(context.Background(), upload, config.Params{Confidence: 0.4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, annotated)

	reqs := backend.Requests()
	test.That(t, reqs, test.ShouldHaveLength, 1)
	test.That(t, reqs[0].Path, test.ShouldEqual, PathDetectImage)
	test.That(t, reqs[0].FileField, test.ShouldEqual, "image")
	test.That(t, reqs[0].FileName, test.ShouldEqual, "image.jpg")
	test.That(t, reqs[0].File, test.ShouldResemble, upload)
	test.That(t, reqs[0].Fields["conf"], test.ShouldEqual, "0.4")
	tracker, ok := reqs[0].Fields["tracker"]
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, tracker, test.ShouldEqual, "")
}

func TestDetectImageErrors(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		backend := newFakeBackend(t, func(w http.ResponseWriter, rec recorded) {
			http.Error(w, "model crashed", http.StatusInternalServerError)
		})
		client := NewDetectionClient(backend.URL, 0, time.Second)

		_, err := client.DetectImage(context.Background(), []byte("x"), config.DefaultParams())
		var be *BackendError
		test.That(t, errors.As(err, &be), test.ShouldBeTrue)
		test.That(t, be.Status, test.ShouldEqual, http.StatusInternalServerError)
		test.That(t, be.Endpoint, test.ShouldEqual, PathDetectImage)
	})

	t.Run("bad base64", func(t *testing.T) {
		backend := newFakeBackend(t, func(w http.ResponseWriter, rec recorded) {
			w.Write([]byte(`{"result":"%%%"}`))
		})
		client := NewDetectionClient(backend.URL, 0, time.Second)

		_, err := client.DetectImage(context.Background(), []byte("x"), config.DefaultParams())
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "base64")
	})

	t.Run("html error page", func(t *testing.T) {
		backend := newFakeBackend(t, func(w http.ResponseWriter, rec recorded) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("<html>tunnel offline</html>"))
		})
		client := NewDetectionClient(backend.URL, 0, time.Second)

		_, err := client.DetectImage(context.Background(), []byte("x"), config.DefaultParams())
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "returned HTML")
	})
}

func TestDetectVideoStreamsUpload(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, rec recorded) {
		w.Write(append([]byte("processed:"), rec.File...))
	})
	client := NewDetectionClient(backend.URL, 0, time.Second)

	body, err := client.DetectVideo(context.Background(), strings.NewReader("raw video"),
		config.Params{Confidence: 0.55, Tracker: config.TrackerByteTrack})
	test.That(t, err, test.ShouldBeNil)
	defer body.Close()
	data, err := io.ReadAll(body)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "processed:raw video")

	reqs := backend.Requests()
	test.That(t, reqs, test.ShouldHaveLength, 1)
	test.That(t, reqs[0].Path, test.ShouldEqual, PathDetectVideo)
	test.That(t, reqs[0].FileField, test.ShouldEqual, "video")
	test.That(t, reqs[0].FileName, test.ShouldEqual, "video.mp4")
	test.That(t, reqs[0].Fields["conf"], test.ShouldEqual, "0.55")
	test.That(t, reqs[0].Fields["tracker"], test.ShouldEqual, "bytetrack")
}

func TestDetectFrameTimeout(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, rec recorded) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte("late"))
	})
	client := NewDetectionClient(backend.URL, 0, 50*time.Millisecond)

	_, err := client.DetectFrame(context.Background(), []byte("frame"), config.DefaultParams())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDetectFrameFields(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, rec recorded) {
		w.Write([]byte("annotated"))
	})
	client := NewDetectionClient(backend.URL, 0, time.Second)

	got, err := client.DetectFrame(context.Background(), []byte("frame"), config.Params{Confidence: 1, Tracker: config.TrackerBoTSORT})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(got), test.ShouldEqual, "annotated")

	reqs := backend.Requests()
	test.That(t, reqs[0].Path, test.ShouldEqual, PathDetectFrame)
	test.That(t, reqs[0].FileField, test.ShouldEqual, "frame")
	test.That(t, string(reqs[0].File), test.ShouldEqual, "frame")
	test.That(t, reqs[0].Fields["conf"], test.ShouldEqual, "1")
	test.That(t, reqs[0].Fields["tracker"], test.ShouldEqual, "botsort")
}

func TestDetectYouTube(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, rec recorded) {
		switch rec.JSON["url"] {
		case "bad":
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "Invalid YouTube URL"})
		case "plain":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("download failed"))
		default:
			w.Write([]byte("mp4 bytes"))
		}
	})
	client := NewDetectionClient(backend.URL, 0, time.Second)

	body, err := client.DetectYouTube(context.Background(), "https://youtu.be/x", config.DefaultParams())
	test.That(t, err, test.ShouldBeNil)
	data, _ := io.ReadAll(body)
	body.Close()
	test.That(t, string(data), test.ShouldEqual, "mp4 bytes")

	req := backend.Requests()[0]
	test.That(t, req.Path, test.ShouldEqual, PathDetectYouTube)
	test.That(t, req.JSON["url"], test.ShouldEqual, "https://youtu.be/x")
	test.That(t, req.JSON["conf"], test.ShouldEqual, 0.4)
	test.That(t, req.JSON["tracker"], test.ShouldEqual, "")

	_, err = client.DetectYouTube(context.Background(), "bad", config.DefaultParams())
	var be *BackendError
	test.That(t, errors.As(err, &be), test.ShouldBeTrue)
	test.That(t, be.ServerMessage(), test.ShouldEqual, "Invalid YouTube URL")

	_, err = client.DetectYouTube(context.Background(), "plain", config.DefaultParams())
	test.That(t, errors.As(err, &be), test.ShouldBeTrue)
	test.That(t, be.ServerMessage(), test.ShouldEqual, "download failed")
}
