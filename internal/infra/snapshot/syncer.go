// Package snapshot persists the store file to a remote object endpoint so
// the pipeline survives ephemeral-disk restarts. Restore runs before the
// store opens any connection; Persist runs on shutdown.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MinPlausibleSize is the smallest local store file worth uploading. A
// freshly migrated, empty database is larger than this; anything smaller
// means the store never really held data. Refusing to upload such a file
// over a bigger remote snapshot keeps a rolling deployment from clobbering
// the previous instance's state with an empty one.
const MinPlausibleSize = 8 * 1024

// Config holds remote object storage settings.
type Config struct {
	URL        string        `yaml:"url"` // base URL of the object endpoint
	Token      string        `yaml:"token"`
	ObjectName string        `yaml:"object_name"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Syncer downloads and uploads the store file.
type Syncer struct {
	baseURL    string
	token      string
	objectName string
	httpClient *http.Client
}

// NewSyncer creates a snapshot syncer. A nil client gets a default with the
// configured timeout.
func NewSyncer(cfg Config, httpClient *http.Client) *Syncer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	name := cfg.ObjectName
	if name == "" {
		name = "leadrelay.db"
	}
	return &Syncer{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		token:      strings.TrimSpace(cfg.Token),
		objectName: name,
		httpClient: httpClient,
	}
}

func (s *Syncer) objectURL() string {
	return s.baseURL + "/objects/" + s.objectName
}

func (s *Syncer) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.objectURL(), body)
	if err != nil {
		return nil, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

// Restore downloads the remote snapshot into localPath. Returns false with
// no error when no snapshot exists yet (first ever run).
func (s *Syncer) Restore(ctx context.Context, localPath string) (bool, error) {
	req, err := s.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return false, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to download snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Info("No remote snapshot found, starting fresh", "object", s.objectName)
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("snapshot download returned http %d", resp.StatusCode)
	}

	// Write to a temp file then rename so a torn download never leaves a
	// half-written store behind.
	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".restore-*")
	if err != nil {
		return false, fmt.Errorf("failed to create restore temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return false, fmt.Errorf("failed to write restored snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return false, fmt.Errorf("failed to move restored snapshot into place: %w", err)
	}

	slog.Info("Restored store from remote snapshot", "object", s.objectName, "bytes", n)
	return true, nil
}

// Persist uploads the local store file. Returns false without touching the
// remote object when the local file looks implausibly small next to an
// existing, larger remote snapshot.
func (s *Syncer) Persist(ctx context.Context, localPath string) (bool, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return false, fmt.Errorf("failed to stat local store: %w", err)
	}

	if info.Size() < MinPlausibleSize {
		remoteSize, err := s.remoteSize(ctx)
		if err != nil {
			return false, err
		}
		if remoteSize > info.Size() {
			slog.Warn("Refusing to overwrite larger remote snapshot with undersized local store",
				"local_bytes", info.Size(), "remote_bytes", remoteSize)
			return false, nil
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return false, fmt.Errorf("failed to open local store: %w", err)
	}
	defer f.Close()

	req, err := s.newRequest(ctx, http.MethodPut, f)
	if err != nil {
		return false, err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to upload snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return false, fmt.Errorf("snapshot upload returned http %d", resp.StatusCode)
	}

	slog.Info("Persisted store snapshot", "object", s.objectName, "bytes", info.Size())
	return true, nil
}

// remoteSize returns the remote snapshot size, or -1 when none exists.
func (s *Syncer) remoteSize(ctx context.Context) (int64, error) {
	req, err := s.newRequest(ctx, http.MethodHead, nil)
	if err != nil {
		return -1, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return -1, fmt.Errorf("failed to probe remote snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return -1, nil
	}
	if resp.StatusCode != http.StatusOK {
		return -1, fmt.Errorf("snapshot probe returned http %d", resp.StatusCode)
	}
	return resp.ContentLength, nil
}
