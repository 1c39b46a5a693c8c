package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Confidence slider bounds, in whole percent.
const (
	MinConfidencePercent     = 25
	MaxConfidencePercent     = 100
	DefaultConfidencePercent = 40
)

// Tracker selects the backend's optional multi-object tracker.
type Tracker string

const (
	TrackerNone      Tracker = ""
	TrackerByteTrack Tracker = "bytetrack"
	TrackerBoTSORT   Tracker = "botsort"
)

// Trackers lists the selectable trackers in display order.
var Trackers = [...]Tracker{TrackerNone, TrackerByteTrack, TrackerBoTSORT}

// ParseTracker accepts exactly the values in Trackers.
func ParseTracker(s string) (Tracker, error) {
	for _, t := range Trackers {
		if string(t) == s {
			return t, nil
		}
	}
	return TrackerNone, errors.Errorf("unknown tracker %q", s)
}

// Params are attached to every outbound detection request.
type Params struct {
	Confidence float64
	Tracker    Tracker
}

// DefaultParams matches the initial state of the sidebar controls.
func DefaultParams() Params {
	return Params{Confidence: float64(DefaultConfidencePercent) / 100}
}

// ParseParams reads the slider percentage and tracker selection as the page
// submits them. An empty confidence falls back to the slider default.
func ParseParams(confidencePercent, tracker string) (Params, error) {
	p := DefaultParams()

	if s := strings.TrimSpace(confidencePercent); s != "" {
		pct, err := strconv.Atoi(s)
		if err != nil {
			return p, errors.Wrapf(err, "invalid confidence %q", s)
		}
		if pct < MinConfidencePercent || pct > MaxConfidencePercent {
			return p, errors.Errorf("confidence %d outside %d-%d", pct, MinConfidencePercent, MaxConfidencePercent)
		}
		p.Confidence = float64(pct) / 100
	}

	t, err := ParseTracker(tracker)
	if err != nil {
		return p, err
	}
	p.Tracker = t
	return p, nil
}

// ConfString renders the confidence the way it goes on the wire: "0.4", not "0.400000".
func (p Params) ConfString() string {
	return strconv.FormatFloat(p.Confidence, 'f', -1, 64)
}
