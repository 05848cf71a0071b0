// Package attachments downloads, normalizes and caches the media that
// arrives with chat messages before it is handed to a model provider.
package attachments

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"

	"github.com/relaybot/relay/internal/cache"
	"github.com/relaybot/relay/pkg/models"
)

// Size and dimension limits for incoming media.
const (
	MaxImageBytes = 6 * 1024 * 1024
	MaxFileBytes  = 100 * 1024 * 1024
)

// ErrTooLarge is returned when an attachment exceeds its size limit.
var ErrTooLarge = errors.New("attachment too large")

// Config controls caching and normalization.
type Config struct {
	// CacheDir is where downloaded files land. Defaults to a
	// per-process temp directory.
	CacheDir string

	// MediaTTL bounds how long prepared images stay cached.
	MediaTTL time.Duration

	// FileTTL bounds how long downloaded files stay cached.
	FileTTL time.Duration

	// MaxImageDimension is the longest edge after downscaling.
	MaxImageDimension int

	// DownloadTimeout bounds a single fetch.
	DownloadTimeout time.Duration
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(os.TempDir(), "relay-attachments")
	}
	if c.MediaTTL <= 0 {
		c.MediaTTL = 180 * time.Second
	}
	if c.FileTTL <= 0 {
		c.FileTTL = 600 * time.Second
	}
	if c.MaxImageDimension <= 0 {
		c.MaxImageDimension = 2048
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 30 * time.Second
	}
	return nil
}

// Store fetches attachments and keeps prepared results warm for the
// short window where a user follows up on the same media.
type Store struct {
	config     Config
	logger     *slog.Logger
	httpClient *http.Client

	mediaCache *cache.Expiring[models.ImageBytes]
	fileCache  *cache.Expiring[string]
}

// NewStore creates a store. The cache directory is created eagerly so
// later writes fail fast if the location is unusable.
func NewStore(config Config, logger *slog.Logger) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(config.CacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{
		config:     config,
		logger:     logger.With("component", "attachments"),
		httpClient: &http.Client{Timeout: config.DownloadTimeout},
		mediaCache: cache.NewExpiring[models.ImageBytes](),
		fileCache:  cache.NewExpiring[string](),
	}, nil
}

// PrepareImage fetches the image at url, downscales it to fit the
// configured edge limit and re-encodes it. Results are cached for
// MediaTTL keyed by URL.
func (s *Store) PrepareImage(ctx context.Context, url string) (models.ImageBytes, error) {
	if cached, ok := s.mediaCache.Get(url); ok {
		return cached, nil
	}

	data, err := s.download(ctx, url, MaxImageBytes)
	if err != nil {
		return models.ImageBytes{}, err
	}

	prepared, err := normalizeImage(data, s.config.MaxImageDimension)
	if err != nil {
		return models.ImageBytes{}, err
	}

	s.mediaCache.Set(url, prepared, s.config.MediaTTL)
	s.logger.Debug("image prepared", "url", url, "bytes", len(prepared.Data))
	return prepared, nil
}

// PrepareFile fetches the file behind ref and returns a local path.
// A ref that already names a local path is returned as-is. Downloads
// are cached for FileTTL keyed by URL.
func (s *Store) PrepareFile(ctx context.Context, ref models.FileRef) (string, error) {
	if ref.Path != "" {
		if _, err := os.Stat(ref.Path); err != nil {
			return "", fmt.Errorf("local attachment: %w", err)
		}
		return ref.Path, nil
	}
	if ref.URL == "" {
		return "", errors.New("file ref has neither path nor url")
	}

	if path, ok := s.fileCache.Get(ref.URL); ok {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		s.fileCache.Delete(ref.URL)
	}

	data, err := s.download(ctx, ref.URL, MaxFileBytes)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.config.CacheDir, cacheFileName(ref))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}

	s.fileCache.Set(ref.URL, path, s.config.FileTTL)
	s.logger.Debug("file prepared", "url", ref.URL, "path", path, "bytes", len(data))
	return path, nil
}

// Sweep evicts expired cache entries and returns the number removed.
// Files on disk are left for the OS temp cleaner.
func (s *Store) Sweep(now time.Time) int {
	return s.mediaCache.Sweep(now) + s.fileCache.Sweep(now)
}

func (s *Store) download(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// normalizeImage decodes data, downscales it so the longest edge fits
// maxDim and re-encodes it. JPEG input stays JPEG, everything else
// becomes PNG, which keeps photos small without costing screenshots
// their sharp edges.
func normalizeImage(data []byte, maxDim int) (models.ImageBytes, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.ImageBytes{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxDim || bounds.Dy() > maxDim {
		img = downscale(img, maxDim)
	}

	var buf bytes.Buffer
	mimeType := "image/png"
	if format == "jpeg" {
		mimeType = "image/jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return models.ImageBytes{}, fmt.Errorf("encode image: %w", err)
	}

	return models.ImageBytes{Data: buf.Bytes(), MimeType: mimeType}, nil
}

func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	var newWidth, newHeight int
	if width > height {
		newWidth = maxDim
		newHeight = height * maxDim / width
	} else {
		newHeight = maxDim
		newWidth = width * maxDim / height
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func cacheFileName(ref models.FileRef) string {
	sum := sha256.Sum256([]byte(ref.URL))
	name := hex.EncodeToString(sum[:8])
	if ext := filepath.Ext(ref.Name); ext != "" {
		return name + ext
	}
	if ext := filepath.Ext(urlPath(ref.URL)); ext != "" {
		return name + ext
	}
	return name
}

func urlPath(rawURL string) string {
	for i := 0; i < len(rawURL); i++ {
		if rawURL[i] == '?' || rawURL[i] == '#' {
			return rawURL[:i]
		}
	}
	return rawURL
}
