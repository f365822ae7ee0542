package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const defaultFFprobe = "ffprobe"

// ResolveFFprobe picks the ffprobe that belongs to ffmpegCmd. An explicitly
// configured ffprobe wins; otherwise an ffprobe sitting next to the resolved
// ffmpeg binary is preferred over whatever PATH yields, so probe and encode
// use the same build.
func ResolveFFprobe(ffmpegCmd, ffprobeCmd string) string {
	ffprobeCmd = strings.TrimSpace(ffprobeCmd)
	if ffprobeCmd != "" && ffprobeCmd != defaultFFprobe {
		return ffprobeCmd
	}
	if resolved, err := exec.LookPath(strings.TrimSpace(ffmpegCmd)); err == nil {
		candidate := filepath.Join(filepath.Dir(resolved), executableName(defaultFFprobe))
		if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
			return candidate
		}
	}
	return defaultFFprobe
}

// Requirements lists the binaries needed to transcode.
func Requirements(ffmpegCmd, ffprobeCmd string) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     ffmpegCmd,
			Description: "Required for rendition encoding and screenshots",
		},
		{
			Name:        "FFprobe",
			Command:     ResolveFFprobe(ffmpegCmd, ffprobeCmd),
			Description: "Required for source metadata probing",
		},
	}
}

func executableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
