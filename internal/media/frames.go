package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"

	"celluloid/internal/config"
)

// Source yields decoded frames in presentation order.
type Source interface {
	Info() Info
	// Next returns the next frame and its index, or io.EOF when the stream
	// is exhausted.
	Next() (*image.RGBA, int, error)
	Close() error
}

// OpenFunc probes a video and opens a frame source for it.
type OpenFunc func(ctx context.Context, path string) (Source, error)

// NewOpener returns an OpenFunc bound to the configured tool names.
func NewOpener(cfg *config.Config) OpenFunc {
	ffprobe := cfg.FFprobeBinary()
	ffmpeg := cfg.FFmpegBinary()
	return func(ctx context.Context, path string) (Source, error) {
		info, err := Probe(ctx, ffprobe, path)
		if err != nil {
			return nil, err
		}
		return OpenFrames(ctx, ffmpeg, path, info)
	}
}

// frames streams raw RGBA frames from an ffmpeg child process.
type frames struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	info   Info
	idx    int
	buf    []byte
	closed bool
}

// OpenFrames starts ffmpeg decoding path into raw RGBA frames sized per info.
func OpenFrames(ctx context.Context, binary, path string, info Info) (Source, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("open frames: invalid dimensions %dx%d", info.Width, info.Height)
	}

	cmd := exec.CommandContext(ctx, binary,
		"-v", "error", "-nostdin",
		"-i", path,
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"pipe:1")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open frames: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("open frames: start ffmpeg: %w", err)
	}

	return &frames{
		cmd:    cmd,
		stdout: stdout,
		info:   info,
		buf:    make([]byte, info.Width*info.Height*4),
	}, nil
}

func (f *frames) Info() Info {
	return f.info
}

func (f *frames) Next() (*image.RGBA, int, error) {
	if f.closed {
		return nil, 0, io.EOF
	}
	n, err := io.ReadFull(f.stdout, f.buf)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, fmt.Errorf("decode frame %d: truncated stream: %w", f.idx, err)
		}
		return nil, 0, fmt.Errorf("decode frame %d: %w", f.idx, err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, f.info.Width, f.info.Height))
	copy(frame.Pix, f.buf)
	idx := f.idx
	f.idx++
	return frame, idx, nil
}

func (f *frames) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	_ = f.stdout.Close()
	// Wait may report a broken pipe when we stop reading early.
	if err := f.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("close frames: %w", err)
	}
	return nil
}
