// Package fetch downloads source videos into the scratch directory.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Downloader retrieves a job's source video, returning a local path.
type Downloader interface {
	Download(ctx context.Context, jobID, videoURL string) (string, error)
}

// New builds an HTTP downloader writing into dir.
func New(dir string) Downloader {
	return &httpDownloader{
		dir:    dir,
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

type httpDownloader struct {
	dir    string
	client *http.Client
}

// Download fetches videoURL into the scratch directory under a job-scoped
// name. The caller owns the returned file.
func (d *httpDownloader) Download(ctx context.Context, jobID, videoURL string) (string, error) {
	parsed, err := url.Parse(videoURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("download: unsupported video url %q", videoURL)
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("download: ensure scratch dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return "", fmt.Errorf("download: build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: fetch video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: video url returned status %d", resp.StatusCode)
	}

	target := filepath.Join(d.dir, jobID+extensionFor(parsed))
	file, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("download: create file: %w", err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("download: write video: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("download: close file: %w", err)
	}
	return target, nil
}

func extensionFor(parsed *url.URL) string {
	ext := strings.ToLower(path.Ext(parsed.Path))
	switch ext {
	case ".mp4", ".mov", ".mkv", ".avi", ".webm", ".m4v":
		return ext
	default:
		return ".mp4"
	}
}
