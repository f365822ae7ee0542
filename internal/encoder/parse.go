package encoder

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"transcoder/internal/rendition"
)

var (
	inputFormatRe = regexp.MustCompile(`^Input #\d+, (.+), from `)
	durationRe    = regexp.MustCompile(`Duration: ([0-9:.]+|N/A)`)
	bitrateRe     = regexp.MustCompile(`bitrate: (\d+) kb/s`)
	videoRe       = regexp.MustCompile(`Stream #\d+:\d+.*?: Video: ([A-Za-z0-9_]+)`)
	audioRe       = regexp.MustCompile(`Stream #\d+:\d+.*?: Audio: ([A-Za-z0-9_]+)`)
	resolutionRe  = regexp.MustCompile(`, (\d{2,5})x(\d{2,5})`)
	darRe         = regexp.MustCompile(`DAR (\d+:\d+)`)
)

// codecParser recovers the input codec descriptor from ffmpeg's stderr banner.
// It completes once the banner moves on to stream mapping or outputs.
type codecParser struct {
	mu      sync.Mutex
	inInput bool
	done    bool
	data    rendition.CodecData
}

// feed consumes one stderr line and reports the descriptor the first time the
// input section ends.
func (p *codecParser) feed(line string) (rendition.CodecData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return rendition.CodecData{}, false
	}
	trimmed := strings.TrimSpace(line)
	if m := inputFormatRe.FindStringSubmatch(trimmed); m != nil {
		p.inInput = true
		p.data.Format = m[1]
		return rendition.CodecData{}, false
	}
	if !p.inInput {
		return rendition.CodecData{}, false
	}
	if strings.HasPrefix(trimmed, "Stream mapping:") || strings.HasPrefix(trimmed, "Output #") {
		p.done = true
		return p.data, true
	}
	if m := durationRe.FindStringSubmatch(trimmed); m != nil {
		if d, ok := ParseTimemark(m[1]); ok {
			p.data.Duration = d
		}
		if b := bitrateRe.FindStringSubmatch(trimmed); b != nil {
			if kbps, err := strconv.Atoi(b[1]); err == nil {
				p.data.Bitrate = kbps * 1000
			}
		}
		return rendition.CodecData{}, false
	}
	if m := videoRe.FindStringSubmatch(trimmed); m != nil && p.data.VideoCodec == "" {
		p.data.VideoCodec = m[1]
		if r := resolutionRe.FindStringSubmatch(trimmed); r != nil {
			p.data.Width, _ = strconv.Atoi(r[1])
			p.data.Height, _ = strconv.Atoi(r[2])
		}
		if d := darRe.FindStringSubmatch(trimmed); d != nil {
			p.data.AspectRatio = d[1]
		}
		return rendition.CodecData{}, false
	}
	if m := audioRe.FindStringSubmatch(trimmed); m != nil && p.data.AudioCodec == "" {
		p.data.AudioCodec = m[1]
	}
	return rendition.CodecData{}, false
}

func (p *codecParser) duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Duration
}

// progressParser folds `-progress` key=value blocks into timemarks. A block
// ends with a progress= line.
type progressParser struct {
	timemark time.Duration
}

func (p *progressParser) feed(line string) (time.Duration, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	switch key {
	case "out_time":
		if d, ok := ParseTimemark(value); ok {
			p.timemark = d
		}
	case "out_time_us", "out_time_ms":
		// out_time_ms is reported in microseconds as well.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.timemark = time.Duration(us) * time.Microsecond
		}
	case "progress":
		return p.timemark, true
	}
	return 0, false
}

// tail keeps the last n lines written to it.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func (t *tail) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "; ")
}
