package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
)

type PostgresStoreTestSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	db        *sql.DB
	repo      *PostgresPendingRepository
	ctx       context.Context
}

func TestPostgresStoreTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration tests in short mode")
	}
	suite.Run(t, new(PostgresStoreTestSuite))
}

func (s *PostgresStoreTestSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx, "postgres:15-alpine",
		postgres.WithDatabase("fints_agent"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		s.T().Fatalf("Failed to start postgres container: %s", err)
	}
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := OpenPostgres(s.ctx, dsn, zerolog.Nop())
	s.Require().NoError(err)
	s.db = db

	// migrations are idempotent
	s.Require().NoError(Migrate(s.ctx, db, zerolog.Nop()))
}

func (s *PostgresStoreTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		s.container.Terminate(ctx)
	}
}

func (s *PostgresStoreTestSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, `TRUNCATE pending_transfers`)
	s.Require().NoError(err)
	s.repo = NewStore(s.db, zerolog.Nop()).Pending()

	var mu sync.Mutex
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.repo.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
}

func (s *PostgresStoreTestSuite) create() *domain.PendingTransfer {
	p, err := s.repo.Create(s.ctx, sampleRequest(), []byte("token-0"), domain.StatusAwaitingApproval)
	s.Require().NoError(err)
	return p
}

func (s *PostgresStoreTestSuite) TestCreateAndGet() {
	p := s.create()

	got, err := s.repo.Get(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.ID, got.ID)
	s.Equal(domain.StatusAwaitingApproval, got.Status)
	s.Equal([]byte("token-0"), got.ResumeToken)
	s.Equal(p.Request.ToIBAN, got.Request.ToIBAN)
	s.True(p.Request.Amount.Equal(got.Request.Amount))
	s.Nil(got.Outcome)
	s.Nil(got.LastPolledAt)
}

func (s *PostgresStoreTestSuite) TestCreate_RegeneratesOnCollision() {
	ids := []string{"aaaaaaaaaa", "aaaaaaaaaa", "bbbbbbbbbb"}
	s.repo.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first := s.create()
	second := s.create()
	s.Equal("aaaaaaaaaa", first.ID)
	s.Equal("bbbbbbbbbb", second.ID)
}

func (s *PostgresStoreTestSuite) TestGet_NotFound() {
	_, err := s.repo.Get(s.ctx, "0123456789")
	s.ErrorIs(err, errors.ErrPendingNotFound)
}

func (s *PostgresStoreTestSuite) TestUpdate_Monotonic() {
	p := s.create()
	outcome := domain.Completed("REF-1", "0020", "Order executed")

	resolved, err := s.repo.Update(s.ctx, p.ID, domain.StatusResolved, &outcome)
	s.Require().NoError(err)
	s.Equal("REF-1", resolved.Outcome.BankReference)

	_, err = s.repo.Update(s.ctx, p.ID, domain.StatusAwaitingApproval, nil)
	s.ErrorIs(err, errors.ErrInvalidTransition)

	got, err := s.repo.Get(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusResolved, got.Status)
	s.Require().NotNil(got.Outcome)
	s.Equal("0020", got.Outcome.ResponseCode)
}

func (s *PostgresStoreTestSuite) TestMutate_ConcurrentIncrements() {
	p := s.create()

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.repo.Mutate(s.ctx, p.ID, func(rec *domain.PendingTransfer) error {
				now := time.Now().UTC()
				rec.MarkPolled([]byte("token-n"), now)
				return nil
			})
			assert.NoError(s.T(), err)
		}()
	}
	wg.Wait()

	got, err := s.repo.Get(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(workers, got.PollCount)
	s.NotNil(got.LastPolledAt)
}

func (s *PostgresStoreTestSuite) TestListAndDelete() {
	first := s.create()
	second := s.create()
	outcome := domain.Rejected("9942", "declined")
	_, err := s.repo.Update(s.ctx, first.ID, domain.StatusResolved, &outcome)
	s.Require().NoError(err)

	all, err := s.repo.List(s.ctx, domain.PendingFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(second.ID, all[0].ID)

	live, err := s.repo.List(s.ctx, domain.PendingFilter{LiveOnly: true})
	s.Require().NoError(err)
	s.Require().Len(live, 1)
	s.Equal(second.ID, live[0].ID)

	limited, err := s.repo.List(s.ctx, domain.PendingFilter{Limit: 1})
	s.Require().NoError(err)
	s.Len(limited, 1)

	s.Require().NoError(s.repo.Delete(s.ctx, first.ID))
	s.ErrorIs(s.repo.Delete(s.ctx, first.ID), errors.ErrPendingNotFound)
}
