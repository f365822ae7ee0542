package encoder

import (
	"context"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"transcoder/internal/config"
	"transcoder/internal/rendition"
)

// Service is the encoder surface used by the orchestrator.
type Service interface {
	// Probe reads container metadata from src. Failures wrap services.ErrProbe.
	Probe(ctx context.Context, src io.Reader) (Metadata, error)
	// Encode transcodes src into one HLS rendition under outDir. The returned
	// channel yields progress and codec events and closes after exactly one
	// EventDone or EventError. Callers must drain it.
	Encode(ctx context.Context, src io.Reader, profile Profile, spec rendition.Spec, outDir string) (<-chan Event, error)
	// Screenshots extracts evenly spaced preview frames from source.
	Screenshots(ctx context.Context, source, outDir string, req ScreenshotRequest) ([]string, error)
}

// Metadata describes a probed source.
type Metadata struct {
	Duration time.Duration
	Format   string
	Bitrate  int64
	Streams  []Stream
}

// Stream is one elementary stream of a probed source.
type Stream struct {
	Type               string
	Codec              string
	Width              int
	Height             int
	DisplayAspectRatio string
	Bitrate            int64
}

// PrimaryVideo returns the first video stream.
func (m Metadata) PrimaryVideo() (Stream, bool) {
	return m.first("video")
}

// PrimaryAudio returns the first audio stream.
func (m Metadata) PrimaryAudio() (Stream, bool) {
	return m.first("audio")
}

func (m Metadata) first(kind string) (Stream, bool) {
	for _, s := range m.Streams {
		if strings.EqualFold(s.Type, kind) {
			return s, true
		}
	}
	return Stream{}, false
}

// CodecData builds the codec descriptor implied by the probe.
func (m Metadata) CodecData() rendition.CodecData {
	data := rendition.CodecData{Format: m.Format, Duration: m.Duration, Bitrate: int(m.Bitrate)}
	if v, ok := m.PrimaryVideo(); ok {
		data.VideoCodec = v.Codec
		data.Width = v.Width
		data.Height = v.Height
		data.AspectRatio = v.DisplayAspectRatio
	}
	if a, ok := m.PrimaryAudio(); ok {
		data.AudioCodec = a.Codec
	}
	return data
}

// Profile is the ffmpeg encode profile applied to every rendition.
type Profile struct {
	VideoCodec     string
	Preset         string
	Tune           string
	Profile        string
	Level          string
	FrameRate      int
	AudioCodec     string
	AudioBitrate   string
	AudioChannels  int
	SegmentSeconds int
	ListSize       int
	StartNumber    int
}

// DefaultProfile returns the baseline x264/AAC HLS profile.
func DefaultProfile() Profile {
	return Profile{
		VideoCodec:     "libx264",
		Preset:         "veryfast",
		Tune:           "zerolatency",
		Profile:        "baseline",
		Level:          "3.0",
		FrameRate:      30,
		AudioCodec:     "aac",
		AudioBitrate:   "64k",
		AudioChannels:  2,
		SegmentSeconds: 5,
	}
}

// ProfileFromConfig overlays configured encoder settings on DefaultProfile.
func ProfileFromConfig(cfg *config.Config) Profile {
	p := DefaultProfile()
	if cfg == nil {
		return p
	}
	enc := cfg.Encoder
	if enc.Preset != "" {
		p.Preset = enc.Preset
	}
	if enc.Tune != "" {
		p.Tune = enc.Tune
	}
	if enc.Profile != "" {
		p.Profile = enc.Profile
	}
	if enc.Level != "" {
		p.Level = enc.Level
	}
	if enc.FrameRate > 0 {
		p.FrameRate = enc.FrameRate
	}
	if enc.AudioBitrate != "" {
		p.AudioBitrate = enc.AudioBitrate
	}
	if enc.AudioChannels > 0 {
		p.AudioChannels = enc.AudioChannels
	}
	if enc.SegmentSeconds > 0 {
		p.SegmentSeconds = enc.SegmentSeconds
	}
	return p
}

// EventKind discriminates Encode events.
type EventKind int

const (
	EventProgress EventKind = iota
	EventCodecData
	EventError
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventCodecData:
		return "codec_data"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Progress reports how far an encode has advanced.
type Progress struct {
	Timemark time.Duration
	// Percent is only meaningful when HasPercent is set, which requires a
	// known source duration.
	Percent    float64
	HasPercent bool
}

// Event is emitted on the channel returned by Encode.
type Event struct {
	Kind         EventKind
	Progress     Progress
	Codec        rendition.CodecData
	Err          error
	PlaylistPath string
}

// ScreenshotRequest configures Screenshots.
type ScreenshotRequest struct {
	Count int
	// Size is the "WxH" frame size; empty keeps the source size.
	Size string
	// Duration of the source; probed when zero.
	Duration time.Duration
}

// ScreenshotOffsets returns count evenly spaced offsets strictly inside
// duration: duration*i/(count+1) for i in 1..count.
func ScreenshotOffsets(duration time.Duration, count int) []time.Duration {
	if count <= 0 || duration <= 0 {
		return nil
	}
	out := make([]time.Duration, count)
	for i := 1; i <= count; i++ {
		out[i-1] = time.Duration(int64(duration) * int64(i) / int64(count+1))
	}
	return out
}

// ProgressPercent converts a timemark into a completion percentage clamped to
// [0, 100]. It reports false when duration is unknown.
func ProgressPercent(timemark, duration time.Duration) (float64, bool) {
	if duration <= 0 {
		return 0, false
	}
	pct := float64(timemark) / float64(duration) * 100
	return math.Max(0, math.Min(100, pct)), true
}

// ParseTimemark parses ffmpeg "HH:MM:SS.ff" timestamps.
func ParseTimemark(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	return total + time.Duration(seconds*float64(time.Second)), true
}

// FormatTimemark renders d as an ffmpeg "-ss" argument.
func FormatTimemark(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
