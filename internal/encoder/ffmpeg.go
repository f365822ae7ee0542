package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"transcoder/internal/logging"
	"transcoder/internal/media/ffprobe"
	"transcoder/internal/rendition"
	"transcoder/internal/services"
)

const stderrTailLines = 8

// Option configures the FFmpeg service.
type Option func(*FFmpeg)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(f *FFmpeg) {
		if exec != nil {
			f.exec = exec
		}
	}
}

// WithLogger sets the logger used for ffmpeg diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(f *FFmpeg) {
		f.logger = logging.NewComponentLogger(logger, "encoder")
	}
}

// WithProber replaces ffprobe invocations (primarily for tests).
func WithProber(probe func(ctx context.Context, binary string, r io.Reader) (ffprobe.Result, error)) Option {
	return func(f *FFmpeg) {
		if probe != nil {
			f.probe = probe
		}
	}
}

// FFmpeg implements Service with the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegBinary  string
	ffprobeBinary string
	exec          Executor
	probe         func(ctx context.Context, binary string, r io.Reader) (ffprobe.Result, error)
	logger        *slog.Logger
}

// NewFFmpeg constructs the ffmpeg-backed encoder.
func NewFFmpeg(ffmpegBinary, ffprobeBinary string, opts ...Option) *FFmpeg {
	if ffmpegBinary = strings.TrimSpace(ffmpegBinary); ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	if ffprobeBinary = strings.TrimSpace(ffprobeBinary); ffprobeBinary == "" {
		ffprobeBinary = "ffprobe"
	}
	f := &FFmpeg{
		ffmpegBinary:  ffmpegBinary,
		ffprobeBinary: ffprobeBinary,
		exec:          commandExecutor{},
		probe:         ffprobe.InspectReader,
		logger:        logging.NewComponentLogger(nil, "encoder"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Probe runs ffprobe over src.
func (f *FFmpeg) Probe(ctx context.Context, src io.Reader) (Metadata, error) {
	result, err := f.probe(ctx, f.ffprobeBinary, src)
	if err != nil {
		return Metadata{}, services.Wrap(services.ErrProbe, "probe", "ffprobe", "inspect source", err)
	}
	meta := Metadata{
		Format:  result.Format.FormatName,
		Bitrate: result.BitRate(),
	}
	if secs := result.DurationSeconds(); secs > 0 {
		meta.Duration = time.Duration(secs * float64(time.Second))
	}
	for _, s := range result.Streams {
		meta.Streams = append(meta.Streams, Stream{
			Type:               strings.ToLower(s.CodecType),
			Codec:              s.CodecName,
			Width:              s.Width,
			Height:             s.Height,
			DisplayAspectRatio: s.DisplayAspectRatio,
			Bitrate:            s.BitRateBPS(),
		})
	}
	return meta, nil
}

// EncodeArgs builds the ffmpeg command line for one rendition read from stdin.
func EncodeArgs(profile Profile, spec rendition.Spec, playlistPath string) []string {
	args := []string{
		"-hide_banner",
		"-i", "pipe:0",
		"-c:v", profile.VideoCodec,
		"-preset", profile.Preset,
		"-tune", profile.Tune,
		"-profile:v", profile.Profile,
		"-level", profile.Level,
		"-r", strconv.Itoa(profile.FrameRate),
		"-b:v", spec.Bitrate,
		"-s", spec.Label(),
		"-c:a", profile.AudioCodec,
		"-b:a", profile.AudioBitrate,
		"-ac", strconv.Itoa(profile.AudioChannels),
		"-start_number", strconv.Itoa(profile.StartNumber),
		"-hls_time", strconv.Itoa(profile.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(profile.ListSize),
		"-f", "hls",
		"-progress", "pipe:1",
		"-nostats",
		"-y",
		playlistPath,
	}
	return args
}

// Encode starts one rendition encode.
func (f *FFmpeg) Encode(ctx context.Context, src io.Reader, profile Profile, spec rendition.Spec, outDir string) (<-chan Event, error) {
	if src == nil {
		return nil, services.Wrap(services.ErrEncode, "encode", spec.Label(), "nil source", nil)
	}
	if spec.Height <= 0 || spec.Width <= 0 {
		return nil, services.Wrap(services.ErrValidation, "encode", spec.Label(), "invalid rendition size", nil)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrEncode, "encode", spec.Label(), "create output dir", err)
	}
	playlist := filepath.Join(outDir, spec.PlaylistName())
	args := EncodeArgs(profile, spec, playlist)

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		var (
			codec    codecParser
			progress progressParser
			stderr   = tail{n: stderrTailLines}
		)
		emit := func(ev Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
		onStdout := func(line string) {
			mark, ok := progress.feed(line)
			if !ok {
				return
			}
			pct, known := ProgressPercent(mark, codec.duration())
			emit(Event{Kind: EventProgress, Progress: Progress{Timemark: mark, Percent: pct, HasPercent: known}})
		}
		onStderr := func(line string) {
			stderr.add(line)
			if data, ok := codec.feed(line); ok {
				emit(Event{Kind: EventCodecData, Codec: data})
			}
		}

		f.logger.Debug("ffmpeg encode starting",
			logging.String(logging.FieldRendition, spec.Label()),
			logging.String("args", strings.Join(args, " ")),
		)
		err := f.exec.Run(ctx, f.ffmpegBinary, args, src, onStdout, onStderr)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %w", ctxErr, err)
			}
			detail := stderr.String()
			out <- Event{Kind: EventError, Err: services.Wrap(services.ErrEncode, "encode", spec.Label(), detail, err)}
			return
		}
		out <- Event{Kind: EventDone, PlaylistPath: playlist}
	}()
	return out, nil
}

// ScreenshotName returns the file name used for the i-th (1-based) frame.
func ScreenshotName(size string, i int) string {
	if size == "" {
		size = "source"
	}
	return fmt.Sprintf("thumbnail-%s_%d.png", size, i)
}

// Screenshots extracts req.Count frames from source into outDir.
func (f *FFmpeg) Screenshots(ctx context.Context, source, outDir string, req ScreenshotRequest) ([]string, error) {
	if req.Count <= 0 {
		return nil, nil
	}
	duration := req.Duration
	if duration <= 0 {
		result, err := ffprobe.Inspect(ctx, f.ffprobeBinary, source)
		if err != nil {
			return nil, services.Wrap(services.ErrProbe, "preview", "ffprobe", "inspect manifest", err)
		}
		duration = time.Duration(result.DurationSeconds() * float64(time.Second))
	}
	offsets := ScreenshotOffsets(duration, req.Count)
	if len(offsets) == 0 {
		return nil, services.Wrap(services.ErrValidation, "preview", "screenshots", "unknown source duration", nil)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}

	files := make([]string, 0, len(offsets))
	for i, offset := range offsets {
		name := ScreenshotName(req.Size, i+1)
		target := filepath.Join(outDir, name)
		args := []string{"-hide_banner", "-loglevel", "error", "-ss", FormatTimemark(offset), "-i", source, "-frames:v", "1"}
		if req.Size != "" {
			args = append(args, "-s", req.Size)
		}
		args = append(args, "-y", target)
		stderr := tail{n: stderrTailLines}
		if err := f.exec.Run(ctx, f.ffmpegBinary, args, nil, nil, stderr.add); err != nil {
			return files, fmt.Errorf("screenshot %d at %s: %w: %s", i+1, offset, err, stderr.String())
		}
		files = append(files, name)
	}
	return files, nil
}
