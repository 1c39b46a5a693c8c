package store

import (
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"detect-web/common/media"
)

// SourceType is the input mode picked in the sidebar.
type SourceType int

const (
	SourceImage SourceType = iota
	SourceVideo
	SourceWebcam
	SourceYouTube
)

// Sources lists every mode in display order.
var Sources = [...]SourceType{SourceImage, SourceVideo, SourceWebcam, SourceYouTube}

func (s SourceType) String() string {
	switch s {
	case SourceImage:
		return "image"
	case SourceVideo:
		return "video"
	case SourceWebcam:
		return "webcam"
	case SourceYouTube:
		return "youtube"
	}
	return "unknown"
}

// Label is the radio button caption.
func (s SourceType) Label() string {
	switch s {
	case SourceImage:
		return "Image"
	case SourceVideo:
		return "Video"
	case SourceWebcam:
		return "Webcam"
	case SourceYouTube:
		return "YouTube"
	}
	return "Unknown"
}

// ParseSource accepts the lower-case names produced by String.
func ParseSource(s string) (SourceType, error) {
	for _, src := range Sources {
		if src.String() == s {
			return src, nil
		}
	}
	return 0, errors.Errorf("unknown source %q", s)
}

// MediaType tags which result, if any, is current.
type MediaType int

const (
	MediaNone MediaType = iota
	MediaImage
	MediaVideo
	MediaWebcam
	MediaYouTube
)

func (m MediaType) String() string {
	switch m {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	case MediaWebcam:
		return "webcam"
	case MediaYouTube:
		return "youtube"
	}
	return ""
}

// ErrSourceChanged is returned when a result arrives after the user has
// switched to another source; the result is discarded.
var ErrSourceChanged = errors.New("source changed while the request was in flight")

// ImageResult is the outcome of an image detection.
type ImageResult struct {
	Raw          []byte      // backend bytes, offered for download
	Display      []byte      // JPEG resized to OriginalSize
	OriginalSize image.Point // pixel size of the upload
}

// VideoResult is a processed video kept on disk and in memory.
type VideoResult struct {
	Path string
	Data []byte
}

// Frame is an immutable encoded frame.
type Frame struct {
	Data []byte
	At   time.Time
}

// FrameSource is the read side of a webcam processor.
type FrameSource interface {
	LastFrame() (Frame, bool)
}

// CapturedFrame is a frame frozen by the capture action.
type CapturedFrame struct {
	Frame   Frame  // unmodified, for download
	Preview []byte // frame with the capture overlay
}

// WebcamState is nil-processor when idle.
type WebcamState struct {
	Processor FrameSource
	Captured  *CapturedFrame
}

// Streaming reports whether frames are being accepted.
func (w WebcamState) Streaming() bool {
	return w.Processor != nil
}

// State is the per-session UI state. It is only touched through Session.
type State struct {
	Source    SourceType
	HasSource bool
	Media     MediaType

	Image   *ImageResult
	Video   *VideoResult
	YouTube *VideoResult
	Webcam  WebcamState

	// Generation increments on every source switch; results computed under
	// an older generation are rejected.
	Generation uint64
}

func (st *State) tempFiles() []string {
	var paths []string
	if st.Video != nil {
		paths = append(paths, st.Video.Path)
	}
	if st.YouTube != nil {
		paths = append(paths, st.YouTube.Path)
	}
	return paths
}

// clear drops every result of every mode and returns the temp files to delete.
func (st *State) clear() []string {
	paths := st.tempFiles()
	st.Media = MediaNone
	st.Image = nil
	st.Video = nil
	st.YouTube = nil
	st.Webcam = WebcamState{}
	return paths
}

// Session is one browser's state, identified by a cookie.
type Session struct {
	ID string

	mu       sync.Mutex
	state    State
	lastSeen atomic.Time
}

func newSession(id string, now time.Time) *Session {
	s := &Session{ID: id}
	s.lastSeen.Store(now)
	return s
}

// LastSeen is the time of the most recent lookup.
func (s *Session) LastSeen() time.Time {
	return s.lastSeen.Load()
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now)
}

// Read calls fn with the state under the session lock. fn must not keep
// references to the state beyond the call.
func (s *Session) Read(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Update calls fn with the state under the session lock.
func (s *Session) Update(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Snapshot returns a shallow copy of the state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// selectSource records src as the current mode. Switching to a different
// mode drops every result, bumps the generation and returns the temp files
// to delete. The first selection only records the mode.
func (st *State) selectSource(src SourceType) (changed bool, stale []string) {
	if !st.HasSource {
		st.Source = src
		st.HasSource = true
		return false, nil
	}
	if st.Source == src {
		return false, nil
	}
	stale = st.clear()
	st.Source = src
	st.Generation++
	return true, stale
}

// SelectSource switches the input mode. Switching to a different mode drops
// the results of every mode and reports changed=true.
func (s *Session) SelectSource(src SourceType) (changed bool, err error) {
	var stale []string
	s.Update(func(st *State) {
		changed, stale = st.selectSource(src)
	})
	return changed, media.Remove(stale...)
}

// Begin makes sure src is the current mode and returns the generation a
// result for it must be stored under. The switch and the generation are
// taken under one lock.
func (s *Session) Begin(src SourceType) (uint64, error) {
	var gen uint64
	var stale []string
	s.Update(func(st *State) {
		_, stale = st.selectSource(src)
		gen = st.Generation
	})
	return gen, media.Remove(stale...)
}

// Clear drops every result and removes their temp files.
func (s *Session) Clear() error {
	var stale []string
	s.Update(func(st *State) {
		stale = st.clear()
		st.Generation++
	})
	return media.Remove(stale...)
}

// SetImageResult stores r if gen is still current.
func (s *Session) SetImageResult(gen uint64, r *ImageResult) error {
	var err error
	s.Update(func(st *State) {
		if st.Generation != gen {
			err = ErrSourceChanged
			return
		}
		st.Image = r
		st.Media = MediaImage
	})
	return err
}

// SetVideoResult stores r for the video or YouTube mode. A previous result
// of the same mode is replaced and its file removed; a stale result is
// rejected and its own file removed.
func (s *Session) SetVideoResult(gen uint64, src SourceType, r *VideoResult) error {
	var stale string
	var err error
	s.Update(func(st *State) {
		if st.Generation != gen {
			err = ErrSourceChanged
			stale = r.Path
			return
		}
		switch src {
		case SourceVideo:
			if st.Video != nil {
				stale = st.Video.Path
			}
			st.Video = r
			st.Media = MediaVideo
		case SourceYouTube:
			if st.YouTube != nil {
				stale = st.YouTube.Path
			}
			st.YouTube = r
			st.Media = MediaYouTube
		default:
			err = errors.Errorf("%s does not produce a video", src)
			stale = r.Path
		}
	})
	return multierr.Append(err, media.Remove(stale))
}

// StartWebcam installs p as the session's frame processor, replacing any
// previous one. The captured frame is kept.
func (s *Session) StartWebcam(gen uint64, p FrameSource) error {
	var err error
	s.Update(func(st *State) {
		if st.Generation != gen {
			err = ErrSourceChanged
			return
		}
		st.Webcam.Processor = p
	})
	return err
}

// StopWebcam returns the session to idle.
func (s *Session) StopWebcam() {
	s.Update(func(st *State) {
		st.Webcam.Processor = nil
	})
}

// WebcamProcessor returns the active processor, or nil when idle.
func (s *Session) WebcamProcessor() FrameSource {
	var p FrameSource
	s.Read(func(st *State) { p = st.Webcam.Processor })
	return p
}

// SetCaptured stores c if gen is still current.
func (s *Session) SetCaptured(gen uint64, c *CapturedFrame) error {
	var err error
	s.Update(func(st *State) {
		if st.Generation != gen {
			err = ErrSourceChanged
			return
		}
		st.Webcam.Captured = c
		st.Media = MediaWebcam
	})
	return err
}
