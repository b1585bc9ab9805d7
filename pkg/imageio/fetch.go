package imageio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/match"
)

const (
	defaultMaxBytes = 10 * 1024 * 1024
	defaultTimeout  = 15 * time.Second
)

var (
	// ErrNotImage is returned when a URL does not serve an image.
	ErrNotImage = errors.New("response is not an image")

	// ErrTooLarge is returned when a download exceeds MaxBytes.
	ErrTooLarge = errors.New("image exceeds size limit")
)

// Fetcher resolves reference image refs. A ref is either an http(s) URL or a
// file path, relative paths being resolved against BaseDir.
type Fetcher struct {
	Client   *http.Client
	BaseDir  string
	MaxBytes int64
	Timeout  time.Duration
	MaxSize  int
}

// NewFetcher creates a Fetcher with default limits.
func NewFetcher(baseDir string) *Fetcher {
	return &Fetcher{
		Client:   &http.Client{},
		BaseDir:  baseDir,
		MaxBytes: defaultMaxBytes,
		Timeout:  defaultTimeout,
		MaxSize:  DefaultMaxSize,
	}
}

// Fetch loads the image behind ref.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (match.FaceImage, error) {
	if err := ctx.Err(); err != nil {
		return match.FaceImage{}, err
	}
	if ref == "" {
		return match.FaceImage{}, fmt.Errorf("empty image reference")
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		data, err := f.download(ctx, ref)
		if err != nil {
			return match.FaceImage{}, err
		}
		return Load(ref, data, f.maxSize())
	}

	path := ref
	if !filepath.IsAbs(path) && f.BaseDir != "" {
		path = filepath.Join(f.BaseDir, path)
	}
	return LoadFile(ref, path, f.maxSize())
}

func (f *Fetcher) maxSize() int {
	if f.MaxSize <= 0 {
		return DefaultMaxSize
	}
	return f.MaxSize
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := f.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%s: %w (%s)", url, ErrNotImage, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%s: %w", url, ErrTooLarge)
	}

	logging.Component("imageio").WithField("url", url).Debugf("Downloaded %d bytes", len(data))
	return data, nil
}
