package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"transcoder/internal/manifest"
	"transcoder/internal/rendition"
	"transcoder/internal/services"
)

func resultsFor(height int) []rendition.Result {
	specs := rendition.Ladder(height)
	out := make([]rendition.Result, len(specs))
	for i, spec := range specs {
		out[i] = rendition.Result{Spec: spec, PlaylistPath: filepath.Join("/work", spec.PlaylistName())}
	}
	return out
}

var stereoH264 = rendition.CodecData{
	Format:     "mov,mp4",
	VideoCodec: "h264",
	AudioCodec: "aac",
	Duration:   90 * time.Second,
	Width:      1280,
	Height:     720,
}

func TestBuildProducesExpectedText(t *testing.T) {
	got, err := manifest.Build(resultsFor(720), stereoH264, "libx264")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "#EXTM3U\n#EXT-X-VERSION:6\n" +
		"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2800000,CODECS=\"avc1.4d001f,mp4a.40.2\",RESOLUTION=1280x720,NAME=720\n720.m3u8\n" +
		"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1400000,CODECS=\"avc1.4d001f,mp4a.40.2\",RESOLUTION=854x480,NAME=480\n480.m3u8\n" +
		"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=800000,CODECS=\"avc1.4d001f,mp4a.40.2\",RESOLUTION=640x360,NAME=360\n360.m3u8\n" +
		"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=400000,CODECS=\"avc1.4d001f,mp4a.40.2\",RESOLUTION=426x240,NAME=240\n240.m3u8\n"
	if got.Text != want {
		t.Fatalf("manifest mismatch:\n%s\nwant:\n%s", got.Text, want)
	}
	if len(got.Files) != 4 || got.Files[0] != "/work/720.m3u8" || got.Files[3] != "/work/240.m3u8" {
		t.Fatalf("unexpected files %v", got.Files)
	}
}

func TestBuildIsOrderIndependent(t *testing.T) {
	ordered := resultsFor(1080)
	shuffled := []rendition.Result{ordered[2], ordered[4], ordered[0], ordered[3], ordered[1]}
	a, err := manifest.Build(ordered, stereoH264, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := manifest.Build(shuffled, stereoH264, "")
	if err != nil {
		t.Fatal(err)
	}
	if a.Text != b.Text {
		t.Fatalf("expected byte-identical manifests:\n%s\n%s", a.Text, b.Text)
	}
}

func TestCodecsFollowOutputEncoder(t *testing.T) {
	hevcSource := rendition.CodecData{VideoCodec: "hevc", AudioCodec: "aac"}
	if got := manifest.Codecs("libx264", hevcSource); got != "avc1.4d001f,mp4a.40.2" {
		t.Fatalf("h264 output of an hevc source advertised %q", got)
	}
	if got := manifest.Codecs("libx265", stereoH264); got != "hvc1.1.6.L93.B0,mp4a.40.2" {
		t.Fatalf("unexpected hevc codecs %q", got)
	}
	if got := manifest.Codecs("", rendition.CodecData{VideoCodec: "h264"}); got != "avc1.4d001f" {
		t.Fatalf("unexpected silent codecs %q", got)
	}
}

func TestBuildUsesSourceAspectAndLadderBandwidth(t *testing.T) {
	results := resultsFor(480)
	// A rendition whose spec carries a stale bandwidth still advertises the
	// ladder value for its height.
	results[0].Spec.Bandwidth = 1
	fourThree := rendition.CodecData{VideoCodec: "h264", AudioCodec: "aac", Width: 640, Height: 480, AspectRatio: "4:3"}

	got, err := manifest.Build(results, fourThree, "libx264")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "#EXTM3U\n#EXT-X-VERSION:6\n" +
		"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1400000,CODECS=\"avc1.4d001f,mp4a.40.2\",RESOLUTION=640x480,NAME=480\n480.m3u8\n" +
		"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=800000,CODECS=\"avc1.4d001f,mp4a.40.2\",RESOLUTION=480x360,NAME=360\n360.m3u8\n" +
		"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=400000,CODECS=\"avc1.4d001f,mp4a.40.2\",RESOLUTION=320x240,NAME=240\n240.m3u8\n"
	if got.Text != want {
		t.Fatalf("manifest mismatch:\n%s\nwant:\n%s", got.Text, want)
	}
}

func TestBuildRejectsEmptyAndDuplicates(t *testing.T) {
	if _, err := manifest.Build(nil, stereoH264, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	results := resultsFor(240)
	results = append(results, results[0])
	if _, err := manifest.Build(results, stereoH264, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestWritePersistsMaster(t *testing.T) {
	m, err := manifest.Build(resultsFor(360), stereoH264, "")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	path, err := m.Write(dir)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if path != filepath.Join(dir, manifest.FileName) {
		t.Fatalf("unexpected path %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != m.Text {
		t.Fatal("written manifest differs from built text")
	}
}
