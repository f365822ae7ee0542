// Package manifest renders the HLS master playlist for a set of completed
// renditions.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"transcoder/internal/fileutil"
	"transcoder/internal/rendition"
	"transcoder/internal/services"
)

// FileName is the master playlist written at the root of a job directory.
const FileName = "master.m3u8"

const (
	codecAVC  = "avc1.4d001f"
	codecHEVC = "hvc1.1.6.L93.B0"
	codecAAC  = "mp4a.40.2"
)

// Manifest is a rendered master playlist.
type Manifest struct {
	Text string
	// Files lists each rendition playlist path in manifest order.
	Files []string
}

// Build renders the master playlist for renditions encoded with videoEncoder
// (an ffmpeg encoder name such as "libx264"; empty means libx264). Records are
// ordered by descending resolution regardless of input order, so identical
// inputs always produce identical bytes. Bandwidth comes from the ladder for
// each height and width follows the source display aspect ratio.
func Build(results []rendition.Result, codec rendition.CodecData, videoEncoder string) (Manifest, error) {
	if len(results) == 0 {
		return Manifest{}, services.Wrap(services.ErrValidation, "manifest", "build", "no renditions", nil)
	}
	ordered := append([]rendition.Result(nil), results...)
	rendition.SortDescending(ordered)

	seen := make(map[int]struct{}, len(ordered))
	for _, result := range ordered {
		if _, dup := seen[result.Spec.Height]; dup {
			return Manifest{}, services.Wrap(services.ErrValidation, "manifest", "build",
				fmt.Sprintf("duplicate rendition height %d", result.Spec.Height), nil)
		}
		seen[result.Spec.Height] = struct{}{}
	}

	codecs := Codecs(videoEncoder, codec)
	aspect := rendition.ParseAspect(codec.AspectRatio, codec.Width, codec.Height)
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:6\n")
	files := make([]string, 0, len(ordered))
	for _, result := range ordered {
		spec := result.Spec
		if w := rendition.EvenWidth(spec.Height, aspect); w > 0 {
			spec = spec.WithWidth(w)
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=%d,CODECS=%q,RESOLUTION=%s,NAME=%d\n",
			rendition.BandwidthForHeight(spec.Height), codecs, spec.Label(), spec.Height)
		b.WriteString(spec.PlaylistName())
		b.WriteByte('\n')
		files = append(files, result.PlaylistPath)
	}
	return Manifest{Text: b.String(), Files: files}, nil
}

// Codecs returns the CODECS attribute value for renditions produced by
// videoEncoder. The source descriptor only decides whether audio is present.
func Codecs(videoEncoder string, codec rendition.CodecData) string {
	video := codecAVC
	switch strings.ToLower(strings.TrimSpace(videoEncoder)) {
	case "libx265", "hevc", "hevc_nvenc", "hevc_qsv", "hevc_vaapi", "hevc_videotoolbox":
		video = codecHEVC
	}
	if !codec.HasAudio() {
		return video
	}
	return video + "," + codecAAC
}

// Write persists the master playlist into dir and returns its path.
func (m Manifest) Write(dir string) (string, error) {
	if strings.TrimSpace(m.Text) == "" {
		return "", errors.New("manifest is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure manifest dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := fileutil.WriteFileAtomic(path, []byte(m.Text), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
