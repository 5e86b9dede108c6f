package sqlite

import (
	"context"

	"github.com/crmsync/leadrelay/internal/infra/storage"
)

// Store bundles every SQLite repository over one shared connection.
type Store struct {
	db          *DB
	sent        *SentRepo
	failures    *FailureRepo
	deadLetters *DeadLetterRepo
	meta        *MetaRepo
	sessions    *SessionRepo
}

// NewStore opens the store file and wires all repositories.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:          db,
		sent:        NewSentRepo(db),
		failures:    NewFailureRepo(db),
		deadLetters: NewDeadLetterRepo(db),
		meta:        NewMetaRepo(db),
		sessions:    NewSessionRepo(db),
	}, nil
}

func (s *Store) Sent() storage.SentRepository              { return s.sent }
func (s *Store) Failures() storage.FailureRepository       { return s.failures }
func (s *Store) DeadLetters() storage.DeadLetterRepository { return s.deadLetters }
func (s *Store) Meta() storage.MetaRepository              { return s.meta }
func (s *Store) Sessions() storage.SessionRepository       { return s.sessions }

// Health checks the underlying connection.
func (s *Store) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}
