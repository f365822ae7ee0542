package rendition_test

import (
	"testing"

	"transcoder/internal/rendition"
)

func heights(specs []rendition.Spec) []int {
	out := make([]int, len(specs))
	for i, s := range specs {
		out[i] = s.Height
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLadderSelectsRungsAtOrBelowSource(t *testing.T) {
	cases := []struct {
		source int
		want   []int
	}{
		{2160, []int{1080, 720, 480, 360, 240}},
		{1080, []int{1080, 720, 480, 360, 240}},
		{720, []int{720, 480, 360, 240}},
		{500, []int{480, 360, 240}},
		{240, []int{240}},
		{144, []int{240}},
		{0, []int{240}},
	}
	for _, tc := range cases {
		got := heights(rendition.Ladder(tc.source))
		if !equalInts(got, tc.want) {
			t.Fatalf("Ladder(%d) = %v, want %v", tc.source, got, tc.want)
		}
	}
}

func TestLadderReturnsCopy(t *testing.T) {
	specs := rendition.Ladder(1080)
	specs[0].Bandwidth = 1
	if rendition.Ladder(1080)[0].Bandwidth != 5000000 {
		t.Fatal("expected ladder to be immutable")
	}
}

func TestSpecNames(t *testing.T) {
	spec := rendition.Ladder(720)[0]
	if spec.Label() != "1280x720" {
		t.Fatalf("unexpected label %q", spec.Label())
	}
	if spec.PlaylistName() != "720.m3u8" {
		t.Fatalf("unexpected playlist %q", spec.PlaylistName())
	}
	if spec.Bitrate != "2800k" {
		t.Fatalf("unexpected bitrate %q", spec.Bitrate)
	}
}

func TestBandwidthForHeight(t *testing.T) {
	cases := map[int]int{1080: 5000000, 900: 2800000, 360: 800000, 100: 400000}
	for height, want := range cases {
		if got := rendition.BandwidthForHeight(height); got != want {
			t.Fatalf("BandwidthForHeight(%d) = %d, want %d", height, got, want)
		}
	}
}

func TestEvenWidth(t *testing.T) {
	if got := rendition.EvenWidth(480, 16.0/9.0); got != 854 {
		t.Fatalf("expected 854, got %d", got)
	}
	if got := rendition.EvenWidth(480, 4.0/3.0); got != 640 {
		t.Fatalf("expected 640, got %d", got)
	}
	if got := rendition.EvenWidth(240, 2.39); got%2 != 0 {
		t.Fatalf("expected even width, got %d", got)
	}
	if got := rendition.EvenWidth(240, 0); got != 0 {
		t.Fatalf("expected 0 for unknown aspect, got %d", got)
	}
}

func TestParseAspect(t *testing.T) {
	if got := rendition.ParseAspect("4:3", 1920, 1080); got != 4.0/3.0 {
		t.Fatalf("expected 4:3, got %v", got)
	}
	if got := rendition.ParseAspect("0:1", 1920, 1080); got != 1920.0/1080.0 {
		t.Fatalf("expected dimension fallback, got %v", got)
	}
	if got := rendition.ParseAspect("", 0, 0); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestFitKeepsNominalWidthWithoutAspect(t *testing.T) {
	specs := rendition.Fit(rendition.Ladder(480), 0)
	if specs[0].Width != 854 {
		t.Fatalf("expected nominal width, got %d", specs[0].Width)
	}
	fitted := rendition.Fit(rendition.Ladder(480), 4.0/3.0)
	if fitted[0].Width != 640 || fitted[0].Height != 480 {
		t.Fatalf("unexpected fitted rung %+v", fitted[0])
	}
}

func TestSortDescending(t *testing.T) {
	specs := rendition.Ladder(1080)
	results := []rendition.Result{{Spec: specs[3]}, {Spec: specs[0]}, {Spec: specs[4]}, {Spec: specs[1]}}
	rendition.SortDescending(results)
	got := make([]int, len(results))
	for i, r := range results {
		got[i] = r.Spec.Height
	}
	if !equalInts(got, []int{1080, 720, 360, 240}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestCodecDataHelpers(t *testing.T) {
	c := rendition.CodecData{VideoCodec: "hevc (Main)", AudioCodec: ""}
	if !c.IsHEVC() {
		t.Fatal("expected hevc")
	}
	if c.HasAudio() {
		t.Fatal("expected no audio")
	}
}
