package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/pkg/errors"

	"detect-web/common/config"
)

// Remote API paths.
const (
	PathDetectImage   = "/detect/image"
	PathDetectVideo   = "/detect/video"
	PathDetectFrame   = "/detect/frame"
	PathDetectYouTube = "/detect/youtube"
)

const maxErrorBody = 64 << 10

// BackendError is returned for any non-200 reply from the detection API.
type BackendError struct {
	Endpoint string
	Status   int
	Body     []byte
}

func (e *BackendError) Error() string {
	preview := string(e.Body)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	if len(e.Body) > 0 && e.Body[0] == '<' {
		return fmt.Sprintf("detection server returned HTML (status %d) for %s", e.Status, e.Endpoint)
	}
	return fmt.Sprintf("detection server returned status %d for %s: %s", e.Status, e.Endpoint, preview)
}

// ServerMessage is the JSON "error" field of the body, or the raw body text
// when there is no such field.
func (e *BackendError) ServerMessage() string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(e.Body)
}

// DetectionClient talks to the remote detection API.
type DetectionClient struct {
	baseURL     string
	client      *http.Client
	frameClient *http.Client
}

// NewDetectionClient creates a client for baseURL. timeout applies to the
// image, video and YouTube calls (0 = none); frameTimeout to webcam frames.
func NewDetectionClient(baseURL string, timeout, frameTimeout time.Duration) *DetectionClient {
	return &DetectionClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: timeout},
		frameClient: &http.Client{Timeout: frameTimeout},
	}
}

// BaseURL is the API root without a trailing slash.
func (c *DetectionClient) BaseURL() string {
	return c.baseURL
}

func (c *DetectionClient) url(path string) string {
	return c.baseURL + path
}

func writeParams(w *multipart.Writer, p config.Params) error {
	if err := w.WriteField("conf", p.ConfString()); err != nil {
		return err
	}
	return w.WriteField("tracker", string(p.Tracker))
}

func createFilePart(w *multipart.Writer, field, filename, contentType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	return w.CreatePart(h)
}

// multipartBody builds a small in-memory multipart body.
func multipartBody(field, filename, contentType string, data []byte, p config.Params) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := createFilePart(writer, field, filename, contentType)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to create form file")
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", errors.Wrap(err, "failed to write form file")
	}
	if err := writeParams(writer, p); err != nil {
		return nil, "", errors.Wrap(err, "failed to write form fields")
	}
	if err := writer.Close(); err != nil {
		return nil, "", errors.Wrap(err, "failed to finish multipart body")
	}
	return body, writer.FormDataContentType(), nil
}

func (c *DetectionClient) post(ctx context.Context, hc *http.Client, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create request for %s", path)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send request to %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &BackendError{Endpoint: path, Status: resp.StatusCode, Body: data}
	}
	return resp, nil
}

// DetectImage sends a JPEG and returns the decoded annotated image bytes.
func (c *DetectionClient) DetectImage(ctx context.Context, jpegData []byte, p config.Params) ([]byte, error) {
	body, contentType, err := multipartBody("image", "image.jpg", "image/jpeg", jpegData, p)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, c.client, PathDetectImage, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "failed to parse image detection response")
	}
	data, err := base64.StdEncoding.DecodeString(payload.Result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode base64 result")
	}
	if len(data) == 0 {
		return nil, errors.New("image detection response has an empty result")
	}
	return data, nil
}

// DetectVideo streams video to the backend without buffering it in memory.
// The caller must close the returned body.
func (c *DetectionClient) DetectVideo(ctx context.Context, video io.Reader, p config.Params) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := writeParams(writer, p); err != nil {
				return err
			}
			part, err := createFilePart(writer, "video", "video.mp4", "video/mp4")
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, video); err != nil {
				return err
			}
			return writer.Close()
		}()
		pw.CloseWithError(err)
	}()

	resp, err := c.post(ctx, c.client, PathDetectVideo, writer.FormDataContentType(), pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return resp.Body, nil
}

// DetectFrame sends one webcam frame using the short frame timeout and
// returns the annotated image bytes.
func (c *DetectionClient) DetectFrame(ctx context.Context, frame []byte, p config.Params) ([]byte, error) {
	body, contentType, err := multipartBody("frame", "frame.jpg", "image/jpeg", frame, p)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, c.frameClient, PathDetectFrame, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read frame response")
	}
	return data, nil
}

type youTubeRequest struct {
	URL     string  `json:"url"`
	Conf    float64 `json:"conf"`
	Tracker string  `json:"tracker"`
}

// DetectYouTube asks the backend to fetch and process a YouTube video. The
// caller must close the returned body.
func (c *DetectionClient) DetectYouTube(ctx context.Context, videoURL string, p config.Params) (io.ReadCloser, error) {
	payload, err := json.Marshal(youTubeRequest{URL: videoURL, Conf: p.Confidence, Tracker: string(p.Tracker)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal youtube request")
	}

	resp, err := c.post(ctx, c.client, PathDetectYouTube, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
