package service

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"detect-web/common/config"
	"detect-web/common/log"
	"detect-web/common/media"
	"detect-web/common/store"
)

// FrameDetector is the part of DetectionClient the webcam loop needs.
type FrameDetector interface {
	DetectFrame(ctx context.Context, frame []byte, p config.Params) ([]byte, error)
}

// WebcamProcessor forwards at most one frame per interval to the backend and
// keeps the most recent annotated frame.
type WebcamProcessor struct {
	detector FrameDetector
	params   config.Params
	limiter  *rate.Limiter
	clock    clock.Clock

	last atomic.Pointer[store.Frame]

	forwarded atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewWebcamProcessor creates a processor bound to the params in effect when
// the stream started.
func NewWebcamProcessor(detector FrameDetector, p config.Params, interval time.Duration, clk clock.Clock) *WebcamProcessor {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = config.DefaultFrameInterval
	}
	return &WebcamProcessor{
		detector: detector,
		params:   p,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		clock:    clk,
	}
}

// takeOver makes wp share prev's limiter, so restarting a stream does not
// reset the forwarding window.
func (wp *WebcamProcessor) takeOver(prev *WebcamProcessor) {
	if prev != nil && prev != wp {
		wp.limiter = prev.limiter
	}
}

// Params returns the detection settings of this stream.
func (wp *WebcamProcessor) Params() config.Params {
	return wp.params
}

// Process handles one incoming frame. It returns the bytes to display and
// whether they came from the backend. Throttled frames and every kind of
// failure return the input unchanged; the last frame is only replaced on
// success.
func (wp *WebcamProcessor) Process(ctx context.Context, frame []byte) ([]byte, bool) {
	if !wp.limiter.AllowN(wp.clock.Now(), 1) {
		wp.dropped.Inc()
		return frame, false
	}

	out, err := wp.detect(ctx, frame)
	if err != nil {
		wp.failed.Inc()
		log.Warn(fmt.Sprintf("webcam frame detection failed: %v", err))
		return frame, false
	}

	wp.forwarded.Inc()
	wp.last.Store(&store.Frame{Data: out, At: wp.clock.Now()})
	return out, true
}

func (wp *WebcamProcessor) detect(ctx context.Context, frame []byte) ([]byte, error) {
	jpegData, _, err := media.ToJPEG(frame)
	if err != nil {
		return nil, err
	}
	annotated, err := wp.detector.DetectFrame(ctx, jpegData, wp.params)
	if err != nil {
		return nil, err
	}
	img, err := media.Decode(annotated)
	if err != nil {
		return nil, err
	}
	return media.EncodeJPEG(img)
}

// LastFrame returns the most recent annotated frame, if any.
func (wp *WebcamProcessor) LastFrame() (store.Frame, bool) {
	f := wp.last.Load()
	if f == nil {
		return store.Frame{}, false
	}
	return *f, true
}

// WebcamStats counts what happened to incoming frames.
type WebcamStats struct {
	Forwarded int64 `json:"forwarded"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

func (wp *WebcamProcessor) Stats() WebcamStats {
	return WebcamStats{
		Forwarded: wp.forwarded.Load(),
		Dropped:   wp.dropped.Load(),
		Failed:    wp.failed.Load(),
	}
}
