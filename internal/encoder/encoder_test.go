package encoder

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"transcoder/internal/media/ffprobe"
	"transcoder/internal/rendition"
	"transcoder/internal/services"
)

var sampleStderr = []string{
	"Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'pipe:0':",
	"  Metadata:",
	"    major_brand     : isom",
	"  Duration: 00:01:40.00, start: 0.000000, bitrate: 2600 kb/s",
	"  Stream #0:0[0x1](und): Video: h264 (High) (avc1 / 0x31637661), yuv420p(progressive), 1280x720 [SAR 1:1 DAR 16:9], 2500 kb/s, 30 fps",
	"  Stream #0:1[0x2](und): Audio: aac (LC) (mp4a / 0x6134706D), 48000 Hz, stereo, fltp, 128 kb/s",
	"Stream mapping:",
	"  Stream #0:0 -> #0:0 (h264 (native) -> h264 (libx264))",
	"Output #0, hls, to '/work/720.m3u8':",
}

var sampleProgress = []string{
	"frame=10",
	"out_time=00:00:25.000000",
	"progress=continue",
	"out_time_us=100000000",
	"progress=end",
}

type call struct {
	binary string
	args   []string
	stdin  bool
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []call
	stdout  []string
	stderr  []string
	err     error
	waitCtx bool
}

func (f *fakeExecutor) Run(ctx context.Context, binary string, args []string, stdin io.Reader, onStdout, onStderr func(string)) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{binary: binary, args: append([]string(nil), args...), stdin: stdin != nil})
	f.mu.Unlock()
	if stdin != nil {
		_, _ = io.Copy(io.Discard, stdin)
	}
	for _, line := range f.stderr {
		if onStderr != nil {
			onStderr(line)
		}
	}
	for _, line := range f.stdout {
		if onStdout != nil {
			onStdout(line)
		}
	}
	if f.waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("encode channel did not close")
		}
	}
}

func TestEncodeEmitsCodecProgressAndDone(t *testing.T) {
	exec := &fakeExecutor{stdout: sampleProgress, stderr: sampleStderr}
	svc := NewFFmpeg("ffmpeg", "ffprobe", WithExecutor(exec))
	spec := rendition.Ladder(720)[0]
	outDir := t.TempDir()

	ch, err := svc.Encode(context.Background(), strings.NewReader("source"), DefaultProfile(), spec, outDir)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := drain(t, ch)
	if len(got) != 4 {
		t.Fatalf("expected codec, 2 progress and done events, got %+v", got)
	}
	if got[0].Kind != EventCodecData {
		t.Fatalf("expected codec data first, got %s", got[0].Kind)
	}
	codec := got[0].Codec
	if codec.VideoCodec != "h264" || codec.AudioCodec != "aac" || codec.Width != 1280 || codec.Height != 720 {
		t.Fatalf("unexpected codec data %+v", codec)
	}
	if codec.Duration != 100*time.Second || codec.AspectRatio != "16:9" || codec.Bitrate != 2600000 {
		t.Fatalf("unexpected codec timing %+v", codec)
	}
	if got[1].Progress.Percent != 25 || !got[1].Progress.HasPercent {
		t.Fatalf("unexpected first progress %+v", got[1].Progress)
	}
	if got[2].Progress.Percent != 100 {
		t.Fatalf("unexpected final progress %+v", got[2].Progress)
	}
	if got[3].Kind != EventDone || !strings.HasSuffix(got[3].PlaylistPath, "720.m3u8") {
		t.Fatalf("unexpected terminal event %+v", got[3])
	}

	args := strings.Join(exec.calls[0].args, " ")
	for _, want := range []string{"-i pipe:0", "-preset veryfast", "-tune zerolatency", "-profile:v baseline", "-level 3.0", "-b:v 2800k", "-s 1280x720", "-b:a 64k", "-ac 2", "-hls_time 5", "-hls_list_size 0", "-start_number 0", "-f hls"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in args %q", want, args)
		}
	}
	if !exec.calls[0].stdin {
		t.Fatal("expected source piped on stdin")
	}
}

func TestEncodeFailureEmitsSingleError(t *testing.T) {
	exec := &fakeExecutor{stderr: []string{"Conversion failed!"}, err: errors.New("exit status 1")}
	svc := NewFFmpeg("", "", WithExecutor(exec))
	ch, err := svc.Encode(context.Background(), strings.NewReader("x"), DefaultProfile(), rendition.Ladder(240)[0], t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, ch)
	if len(got) != 1 || got[0].Kind != EventError {
		t.Fatalf("expected a single error event, got %+v", got)
	}
	if !errors.Is(got[0].Err, services.ErrEncode) || !strings.Contains(got[0].Err.Error(), "Conversion failed!") {
		t.Fatalf("unexpected error %v", got[0].Err)
	}
}

func TestEncodeCancellationStopsProcess(t *testing.T) {
	exec := &fakeExecutor{waitCtx: true}
	svc := NewFFmpeg("", "", WithExecutor(exec))
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := svc.Encode(ctx, strings.NewReader("x"), DefaultProfile(), rendition.Ladder(240)[0], t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	got := drain(t, ch)
	if len(got) == 0 {
		t.Fatal("expected terminal event")
	}
	last := got[len(got)-1]
	if last.Kind != EventError || !errors.Is(last.Err, context.Canceled) {
		t.Fatalf("expected canceled error, got %+v", last)
	}
}

func TestEncodeRejectsInvalidSpec(t *testing.T) {
	svc := NewFFmpeg("", "", WithExecutor(&fakeExecutor{}))
	if _, err := svc.Encode(context.Background(), strings.NewReader("x"), DefaultProfile(), rendition.Spec{}, t.TempDir()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProbeMapsStreams(t *testing.T) {
	prober := func(ctx context.Context, binary string, r io.Reader) (ffprobe.Result, error) {
		return ffprobe.Parse([]byte(`{"streams":[{"codec_type":"video","codec_name":"hevc","width":3840,"height":2160,"display_aspect_ratio":"16:9"},{"codec_type":"audio","codec_name":"opus"}],"format":{"format_name":"matroska,webm","duration":"12.5","bit_rate":"9000000"}}`))
	}
	svc := NewFFmpeg("", "", WithProber(prober))
	meta, err := svc.Probe(context.Background(), strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	video, ok := meta.PrimaryVideo()
	if !ok || video.Height != 2160 || video.Codec != "hevc" {
		t.Fatalf("unexpected video %+v", video)
	}
	if meta.Duration != 12500*time.Millisecond || meta.Bitrate != 9000000 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	codec := meta.CodecData()
	if !codec.IsHEVC() || !codec.HasAudio() {
		t.Fatalf("unexpected codec data %+v", codec)
	}
}

func TestProbeWrapsFailures(t *testing.T) {
	prober := func(context.Context, string, io.Reader) (ffprobe.Result, error) {
		return ffprobe.Result{}, errors.New("invalid data found")
	}
	svc := NewFFmpeg("", "", WithProber(prober))
	if _, err := svc.Probe(context.Background(), strings.NewReader("x")); !errors.Is(err, services.ErrProbe) {
		t.Fatalf("expected probe error, got %v", err)
	}
}

func TestScreenshotsSpacesFrames(t *testing.T) {
	exec := &fakeExecutor{}
	svc := NewFFmpeg("", "", WithExecutor(exec))
	files, err := svc.Screenshots(context.Background(), "/work/master.m3u8", t.TempDir(), ScreenshotRequest{Count: 4, Size: "1280x720", Duration: 100 * time.Second})
	if err != nil {
		t.Fatalf("Screenshots: %v", err)
	}
	want := []string{"thumbnail-1280x720_1.png", "thumbnail-1280x720_2.png", "thumbnail-1280x720_3.png", "thumbnail-1280x720_4.png"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected files %v", files)
	}
	offsets := []string{"20.000", "40.000", "60.000", "80.000"}
	for i, c := range exec.calls {
		args := strings.Join(c.args, " ")
		if !strings.Contains(args, "-ss "+offsets[i]) {
			t.Fatalf("call %d: expected offset %s in %q", i, offsets[i], args)
		}
	}
}

func TestHelpers(t *testing.T) {
	if d, ok := ParseTimemark("01:02:03.5"); !ok || d != time.Hour+2*time.Minute+3500*time.Millisecond {
		t.Fatalf("unexpected timemark %v %v", d, ok)
	}
	if _, ok := ParseTimemark("N/A"); ok {
		t.Fatal("expected N/A to be rejected")
	}
	if pct, ok := ProgressPercent(30*time.Second, 60*time.Second); !ok || pct != 50 {
		t.Fatalf("unexpected percent %v", pct)
	}
	if pct, _ := ProgressPercent(90*time.Second, 60*time.Second); pct != 100 {
		t.Fatalf("expected clamp to 100, got %v", pct)
	}
	if _, ok := ProgressPercent(time.Second, 0); ok {
		t.Fatal("expected unknown percent without duration")
	}
	if got := ScreenshotOffsets(10*time.Second, 4); len(got) != 4 || got[0] != 2*time.Second || got[3] != 8*time.Second {
		t.Fatalf("unexpected offsets %v", got)
	}
}
