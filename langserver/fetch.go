package langserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
)

// MaxRedirects is the number of redirect hops a download may follow.
const MaxRedirects = 5

// ProgressFunc receives the bytes written so far and the expected total,
// which is -1 when the server sent no length.
type ProgressFunc func(written, total int64)

// NewHTTPClient returns a client that follows at most MaxRedirects hops.
func NewHTTPClient() *http.Client {
	return &http.Client{CheckRedirect: capRedirects}
}

func capRedirects(req *http.Request, via []*http.Request) error {
	if len(via) > MaxRedirects {
		return fmt.Errorf("%w: gave up after %d hops at %s", ErrTooManyRedirects, MaxRedirects, req.URL.Redacted())
	}
	return nil
}

type downloaded struct {
	path   string
	digest string
	size   int64
}

// fetch streams url into a temp file under tempDir, hashing as it goes.
// The temp file is removed on every error path.
func fetch(ctx context.Context, client *http.Client, url, tempDir string, progress ProgressFunc) (downloaded, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return downloaded{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return downloaded{}, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return downloaded{}, fmt.Errorf("download returned HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(tempDir, "mesonls-download-*.zip")
	if err != nil {
		return downloaded{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	hash := sha256.New()
	counter := &progressWriter{total: resp.ContentLength, report: progress}
	n, copyErr := io.Copy(io.MultiWriter(tmp, hash, counter), resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return downloaded{}, fmt.Errorf("write artifact: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return downloaded{}, fmt.Errorf("close temp file: %w", closeErr)
	}
	return downloaded{path: tmpPath, digest: hex.EncodeToString(hash.Sum(nil)), size: n}, nil
}

type progressWriter struct {
	written int64
	total   int64
	report  ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.report != nil {
		w.report(w.written, w.total)
	}
	return len(p), nil
}
