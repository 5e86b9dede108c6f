package control

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/crmsync/leadrelay/internal/core/config"
	"github.com/crmsync/leadrelay/internal/core/domain"
	"github.com/crmsync/leadrelay/internal/core/fingerprint"
	"github.com/crmsync/leadrelay/internal/core/worker"
	"github.com/crmsync/leadrelay/internal/infra/crm"
	"github.com/crmsync/leadrelay/internal/infra/storage"
	"github.com/crmsync/leadrelay/internal/infra/storage/memory"
	"github.com/crmsync/leadrelay/internal/notify"
	"github.com/crmsync/leadrelay/internal/pipeline/coordinator"
	"github.com/crmsync/leadrelay/internal/pipeline/health"
	"github.com/crmsync/leadrelay/internal/pipeline/retry"
)

type stubSource struct {
	rows [][]string
}

func (s *stubSource) FetchRows(ctx context.Context, sourceID, tabName string) ([][]string, error) {
	return s.rows, nil
}

func (s *stubSource) ResolveTabName(ctx context.Context, sourceID, tabID string) (string, error) {
	return "", nil
}

// gatedCRM parks the delivery mid-flight so the test can raise the shutdown
// signal while the CRM call is outstanding.
type gatedCRM struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCRM) Submit(ctx context.Context, lead domain.Lead, tenant domain.Tenant) (*crm.SubmitResult, error) {
	close(g.entered)
	<-g.release
	return &crm.SubmitResult{ID: "ok"}, nil
}

type drainCheckStore struct {
	storage.Store
	t  *testing.T
	fp string
}

func (s *drainCheckStore) Close() error {
	if exists, _ := s.Store.Sent().Exists(context.Background(), s.fp); !exists {
		s.t.Errorf("store closed before the in-flight delivery was recorded")
	}
	return s.Store.Close()
}

func TestStopWaitsForInFlightDelivery(t *testing.T) {
	lead := domain.Lead{Email: "a@example.com", FirstName: "Jane", LastName: "Doe"}
	store := &drainCheckStore{Store: memory.NewStore(), t: t, fp: fingerprint.Compute(lead)}

	api := &gatedCRM{entered: make(chan struct{}), release: make(chan struct{})}
	coord := coordinator.New(
		coordinator.Config{
			Locations: []coordinator.LocationConfig{{SourceID: "sheet-1", TabName: "Leads", Tenant: "acme"}},
			Tenants:   map[string]domain.Tenant{"acme": {Name: "acme"}},
			Retry:     retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
		store,
		&stubSource{rows: [][]string{
			{"email", "first_name", "last_name"},
			{"a@example.com", "Jane", "Doe"},
		}},
		api,
		nil,
		notify.NewLogDigest(),
	)

	r := &Relay{
		cfg:          &config.AppConfig{},
		coordinator:  coord,
		sweeper:      worker.NewSweeper(worker.RetentionConfig{}, store),
		healthServer: health.NewServer(health.NewMonitor(store), 0),
		store:        store,
		log:          slog.Default(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	<-api.entered
	cancel()
	close(api.release)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	if exists, _ := store.Sent().Exists(context.Background(), store.fp); !exists {
		t.Errorf("delivered lead missing from the sent set after shutdown")
	}
}
