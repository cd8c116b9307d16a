package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Info holds the video metadata the analysis pipeline needs.
type Info struct {
	FPS        float64
	FrameCount int
	Width      int
	Height     int
	Duration   float64
}

// ErrNoVideoStream indicates the file has no decodable video stream.
var ErrNoVideoStream = errors.New("no video stream")

type probeStream struct {
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	NBFrames   string `json:"nb_frames"`
	Duration   string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// Probe executes ffprobe against the provided path and extracts video info.
func Probe(ctx context.Context, binary, path string) (Info, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Info{}, errors.New("probe: empty path")
	}

	cmd := exec.CommandContext(ctx, binary,
		"-v", "error", "-hide_banner",
		"-select_streams", "v:0",
		"-show_streams", "-show_format",
		"-of", "json", "--", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Info{}, fmt.Errorf("probe: %w: %s", err, strings.TrimSpace(string(output)))
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return Info{}, fmt.Errorf("probe parse: %w", err)
	}
	return infoFromProbe(result)
}

func infoFromProbe(result probeResult) (Info, error) {
	var video *probeStream
	for i := range result.Streams {
		if strings.EqualFold(result.Streams[i].CodecType, "video") {
			video = &result.Streams[i]
			break
		}
	}
	if video == nil {
		return Info{}, ErrNoVideoStream
	}

	info := Info{
		Width:  video.Width,
		Height: video.Height,
		FPS:    parseRate(video.RFrameRate),
	}
	info.Duration = parseFloat(video.Duration)
	if info.Duration == 0 {
		info.Duration = parseFloat(result.Format.Duration)
	}
	info.FrameCount = int(parseFloat(video.NBFrames))
	if info.FrameCount == 0 && info.FPS > 0 && info.Duration > 0 {
		info.FrameCount = int(math.Round(info.Duration * info.FPS))
	}
	if info.FrameCount == 0 {
		return Info{}, ErrNoVideoStream
	}
	if info.Width <= 0 || info.Height <= 0 {
		return Info{}, fmt.Errorf("probe: invalid dimensions %dx%d", info.Width, info.Height)
	}
	return info, nil
}

// parseRate converts an ffprobe rational like "30000/1001" to frames per second.
func parseRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if num, den, ok := strings.Cut(value, "/"); ok {
		n := parseFloat(num)
		d := parseFloat(den)
		if d == 0 {
			return 0
		}
		return n / d
	}
	return parseFloat(value)
}

func parseFloat(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(parsed) || parsed < 0 {
		return 0
	}
	return parsed
}
