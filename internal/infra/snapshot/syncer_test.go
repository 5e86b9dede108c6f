package snapshot

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// objectServer is a minimal remote object endpoint for tests.
type objectServer struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newObjectServer() *objectServer {
	return &objectServer{data: make(map[string][]byte)}
}

func (o *objectServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		defer o.mu.Unlock()
		body, ok := o.data[r.URL.Path]
		switch r.Method {
		case http.MethodGet:
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(body)
		case http.MethodPut:
			payload, _ := io.ReadAll(r.Body)
			o.data[r.URL.Path] = payload
			o.puts++
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// headAwareHandler wraps handler to report real Content-Length on HEAD.
func (o *objectServer) headAwareHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			o.mu.Lock()
			body, ok := o.data[r.URL.Path]
			o.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		o.handler().ServeHTTP(w, r)
	})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func newSyncer(t *testing.T, srv *httptest.Server) *Syncer {
	t.Helper()
	return NewSyncer(Config{URL: srv.URL, ObjectName: "store.db"}, srv.Client())
}

func TestRestoreFreshStart(t *testing.T) {
	obj := newObjectServer()
	srv := httptest.NewServer(obj.headAwareHandler())
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "store.db")
	restored, err := newSyncer(t, srv).Restore(context.Background(), local)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if restored {
		t.Errorf("Restore() = true with no remote snapshot, want false")
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Errorf("fresh start must not create a local file")
	}
}

func TestRestoreDownloadsSnapshot(t *testing.T) {
	obj := newObjectServer()
	obj.data["/objects/store.db"] = bytes.Repeat([]byte("x"), 100)
	srv := httptest.NewServer(obj.headAwareHandler())
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "store.db")
	restored, err := newSyncer(t, srv).Restore(context.Background(), local)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if !restored {
		t.Fatalf("Restore() = false, want true")
	}
	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("failed to read restored file: %v", err)
	}
	if len(got) != 100 {
		t.Errorf("restored %d bytes, want 100", len(got))
	}
}

func TestPersistUploadsPlausibleFile(t *testing.T) {
	obj := newObjectServer()
	srv := httptest.NewServer(obj.headAwareHandler())
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "store.db")
	if err := os.WriteFile(local, bytes.Repeat([]byte("x"), MinPlausibleSize+1), 0o644); err != nil {
		t.Fatal(err)
	}

	ok, err := newSyncer(t, srv).Persist(context.Background(), local)
	if err != nil {
		t.Fatalf("Persist() error: %v", err)
	}
	if !ok {
		t.Errorf("Persist() = false, want true")
	}
	if len(obj.data["/objects/store.db"]) != MinPlausibleSize+1 {
		t.Errorf("remote object holds %d bytes, want %d", len(obj.data["/objects/store.db"]), MinPlausibleSize+1)
	}
}

func TestPersistRefusesUndersizedLocalOverLargerRemote(t *testing.T) {
	obj := newObjectServer()
	remote := bytes.Repeat([]byte("r"), 50*1024)
	obj.data["/objects/store.db"] = remote
	srv := httptest.NewServer(obj.headAwareHandler())
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "store.db")
	if err := os.WriteFile(local, bytes.Repeat([]byte("x"), 2*1024), 0o644); err != nil {
		t.Fatal(err)
	}

	ok, err := newSyncer(t, srv).Persist(context.Background(), local)
	if err != nil {
		t.Fatalf("Persist() error: %v", err)
	}
	if ok {
		t.Errorf("Persist() = true for a 2KB local file over a 50KB remote, want false")
	}
	if obj.puts != 0 {
		t.Errorf("remote object was modified %d times, want 0", obj.puts)
	}
	if !bytes.Equal(obj.data["/objects/store.db"], remote) {
		t.Errorf("remote snapshot content changed")
	}
}

func TestPersistSmallFileWithNoRemote(t *testing.T) {
	obj := newObjectServer()
	srv := httptest.NewServer(obj.headAwareHandler())
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "store.db")
	if err := os.WriteFile(local, []byte("tiny"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Nothing remote to protect; even a small file may upload.
	ok, err := newSyncer(t, srv).Persist(context.Background(), local)
	if err != nil {
		t.Fatalf("Persist() error: %v", err)
	}
	if !ok {
		t.Errorf("Persist() = false with no remote snapshot, want true")
	}
}
