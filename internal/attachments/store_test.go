package attachments

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/relaybot/relay/pkg/models"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{
		CacheDir:          t.TempDir(),
		MaxImageDimension: 64,
	}, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func TestPrepareImageDownscales(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes(t, 200, 100))
	}))
	defer server.Close()

	store := newTestStore(t)
	prepared, err := store.PrepareImage(context.Background(), server.URL+"/wide.png")
	if err != nil {
		t.Fatalf("PrepareImage() error = %v", err)
	}
	if prepared.MimeType != "image/png" {
		t.Errorf("MimeType = %q, want image/png", prepared.MimeType)
	}

	img, _, err := image.Decode(bytes.NewReader(prepared.Data))
	if err != nil {
		t.Fatalf("decode prepared image: %v", err)
	}
	if got := img.Bounds().Dx(); got != 64 {
		t.Errorf("width = %d, want 64", got)
	}
	if got := img.Bounds().Dy(); got != 32 {
		t.Errorf("height = %d, want 32", got)
	}
}

func TestPrepareImageCachesByURL(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(pngBytes(t, 10, 10))
	}))
	defer server.Close()

	store := newTestStore(t)
	url := server.URL + "/same.png"
	for i := 0; i < 3; i++ {
		if _, err := store.PrepareImage(context.Background(), url); err != nil {
			t.Fatalf("PrepareImage() #%d error = %v", i, err)
		}
	}
	if hits != 1 {
		t.Errorf("server hits = %d, want 1", hits)
	}
}

func TestPrepareImageRejectsOversize(t *testing.T) {
	big := make([]byte, MaxImageBytes+1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(big)
	}))
	defer server.Close()

	store := newTestStore(t)
	_, err := store.PrepareImage(context.Background(), server.URL+"/huge.png")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("PrepareImage() error = %v, want ErrTooLarge", err)
	}
}

func TestPrepareFileDownloadsAndCaches(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("report body"))
	}))
	defer server.Close()

	store := newTestStore(t)
	ref := models.FileRef{URL: server.URL + "/report.pdf", Name: "report.pdf"}

	path, err := store.PrepareFile(context.Background(), ref)
	if err != nil {
		t.Fatalf("PrepareFile() error = %v", err)
	}
	if !strings.HasSuffix(path, ".pdf") {
		t.Errorf("path = %q, want .pdf suffix", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read prepared file: %v", err)
	}
	if string(data) != "report body" {
		t.Errorf("content = %q", data)
	}

	again, err := store.PrepareFile(context.Background(), ref)
	if err != nil {
		t.Fatalf("PrepareFile() second call error = %v", err)
	}
	if again != path || hits != 1 {
		t.Errorf("second call path = %q hits = %d, want cached path and 1 hit", again, hits)
	}
}

func TestPrepareFileLocalPathPassthrough(t *testing.T) {
	store := newTestStore(t)

	local := store.config.CacheDir + "/existing.txt"
	if err := os.WriteFile(local, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	path, err := store.PrepareFile(context.Background(), models.FileRef{Path: local})
	if err != nil {
		t.Fatalf("PrepareFile() error = %v", err)
	}
	if path != local {
		t.Errorf("path = %q, want %q", path, local)
	}

	if _, err := store.PrepareFile(context.Background(), models.FileRef{Path: local + ".missing"}); err == nil {
		t.Fatal("PrepareFile() with missing local path succeeded")
	}
}

func TestWaitReadyImmediate(t *testing.T) {
	err := WaitReady(context.Background(), PollConfig{}, func(context.Context) (bool, error) {
		return true, nil
	})
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
}

func TestWaitReadyBudgetExhausted(t *testing.T) {
	var probes int
	err := WaitReady(context.Background(), PollConfig{
		Interval: time.Millisecond,
		MaxWait:  5 * time.Millisecond,
	}, func(context.Context) (bool, error) {
		probes++
		return false, nil
	})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("WaitReady() error = %v, want ErrNotReady", err)
	}
	if probes == 0 {
		t.Error("probe never ran")
	}
}

func TestWaitReadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := WaitReady(ctx, PollConfig{Interval: time.Hour, MaxWait: 2 * time.Hour},
		func(context.Context) (bool, error) { return false, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitReady() error = %v, want context.Canceled", err)
	}
}

func TestWaitReadyProbeError(t *testing.T) {
	probeErr := errors.New("backend gone")
	err := WaitReady(context.Background(), PollConfig{}, func(context.Context) (bool, error) {
		return false, probeErr
	})
	if !errors.Is(err, probeErr) {
		t.Fatalf("WaitReady() error = %v, want wrapped probe error", err)
	}
}
