// Package rendition defines the fixed HLS bitrate ladder and the codec
// descriptor shared by every rendition of a job.
package rendition

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Spec describes one rung of the ladder.
type Spec struct {
	Height    int
	Width     int
	Bandwidth int
	// Bitrate is the ffmpeg video bitrate argument, e.g. "2800k".
	Bitrate string
}

// Label returns the "WxH" resolution string.
func (s Spec) Label() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// PlaylistName returns the per-rung media playlist file name.
func (s Spec) PlaylistName() string {
	return strconv.Itoa(s.Height) + ".m3u8"
}

// WithWidth returns a copy of s using width.
func (s Spec) WithWidth(width int) Spec {
	s.Width = width
	return s
}

var ladder = []Spec{
	{Height: 1080, Width: 1920, Bandwidth: 5000000, Bitrate: "4800k"},
	{Height: 720, Width: 1280, Bandwidth: 2800000, Bitrate: "2800k"},
	{Height: 480, Width: 854, Bandwidth: 1400000, Bitrate: "1400k"},
	{Height: 360, Width: 640, Bandwidth: 800000, Bitrate: "800k"},
	{Height: 240, Width: 426, Bandwidth: 400000, Bitrate: "400k"},
}

// Full returns a copy of the whole ladder in descending order.
func Full() []Spec {
	return append([]Spec(nil), ladder...)
}

// Ladder returns every rung at or below sourceHeight, highest first. Sources
// shorter than the lowest rung still receive that rung so a job always has at
// least one rendition.
func Ladder(sourceHeight int) []Spec {
	out := make([]Spec, 0, len(ladder))
	for _, spec := range ladder {
		if spec.Height <= sourceHeight {
			out = append(out, spec)
		}
	}
	if len(out) == 0 {
		out = append(out, ladder[len(ladder)-1])
	}
	return out
}

// BandwidthForHeight returns the advertised bandwidth for a rung height.
// Heights between rungs use the nearest lower rung.
func BandwidthForHeight(height int) int {
	for _, spec := range ladder {
		if height >= spec.Height {
			return spec.Bandwidth
		}
	}
	return ladder[len(ladder)-1].Bandwidth
}

// CodecData is the codec descriptor reported by the encoder for a source.
type CodecData struct {
	Format      string
	VideoCodec  string
	AudioCodec  string
	Duration    time.Duration
	Width       int
	Height      int
	Bitrate     int
	AspectRatio string
}

// HasAudio reports whether the descriptor names an audio stream.
func (c CodecData) HasAudio() bool {
	return strings.TrimSpace(c.AudioCodec) != ""
}

// IsHEVC reports whether the video stream is H.265.
func (c CodecData) IsHEVC() bool {
	codec := strings.ToLower(c.VideoCodec)
	return strings.HasPrefix(codec, "hevc") || strings.HasPrefix(codec, "h265") || strings.HasPrefix(codec, "hvc1")
}

// Result is one completed rendition.
type Result struct {
	Spec         Spec
	PlaylistPath string
	CodecData    CodecData
}

// SortDescending orders results by height, then bandwidth, highest first.
func SortDescending(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Spec, results[j].Spec
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.Bandwidth > b.Bandwidth
	})
}

// EvenWidth computes the output width for height that preserves the display
// aspect ratio, rounded to the nearest even number.
func EvenWidth(height int, aspect float64) int {
	if height <= 0 || aspect <= 0 || math.IsNaN(aspect) || math.IsInf(aspect, 0) {
		return 0
	}
	width := int(math.Round(float64(height)*aspect/2)) * 2
	if width < 2 {
		width = 2
	}
	return width
}

// ParseAspect parses "W:H" display aspect ratios. It falls back to
// width/height when the ratio is missing or malformed.
func ParseAspect(ratio string, width, height int) float64 {
	if w, h, ok := strings.Cut(strings.TrimSpace(ratio), ":"); ok {
		num, errNum := strconv.ParseFloat(w, 64)
		den, errDen := strconv.ParseFloat(h, 64)
		if errNum == nil && errDen == nil && num > 0 && den > 0 {
			return num / den
		}
	}
	if width > 0 && height > 0 {
		return float64(width) / float64(height)
	}
	return 0
}

// Fit adjusts every rung width to the source display aspect ratio. Rungs keep
// their nominal width when the aspect is unknown.
func Fit(specs []Spec, aspect float64) []Spec {
	out := make([]Spec, len(specs))
	for i, spec := range specs {
		if w := EvenWidth(spec.Height, aspect); w > 0 {
			spec = spec.WithWidth(w)
		}
		out[i] = spec
	}
	return out
}
