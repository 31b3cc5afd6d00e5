package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
)

const (
	recordExt      = ".json"
	lockExt        = ".lock"
	lockRetryDelay = 50 * time.Millisecond
)

var safeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FileStore keeps one JSON file per pending transfer under dir. Writes go
// through a temp file and a rename so readers never see a partial record.
// Mutations of one id are serialized within the process by a keyed mutex and
// across processes by an advisory lock on <id>.lock.
type FileStore struct {
	dir    string
	logger zerolog.Logger
	locks  *keyedMutex
	now    func() time.Time
	newID  func() string
}

var _ domain.PendingRepository = (*FileStore)(nil)

func NewFileStore(dir string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: logger,
		locks:  newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  NewPendingID,
	}
}

func (s *FileStore) recordPath(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

func (s *FileStore) lockPath(id string) string {
	return filepath.Join(s.dir, id+lockExt)
}

func (s *FileStore) Create(ctx context.Context, req domain.TransferRequest, resumeToken []byte, status domain.PendingStatus) (*domain.PendingTransfer, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to create pending directory", err)
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := newPendingRecord(s.newID(), req, resumeToken, status, s.now())
		if err != nil {
			return nil, err
		}
		err = s.writeExclusive(p)
		if stderrors.Is(err, fs.ErrExist) {
			s.logger.Warn().Str("pending_id", p.ID).Msg("pending id collision, regenerating")
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Str("pending_id", p.ID).Msg("failed to create pending transfer")
			return nil, errors.Wrap(errors.InternalError, "failed to create pending transfer", err)
		}
		s.logger.Info().Str("pending_id", p.ID).Str("status", string(p.Status)).Msg("pending transfer created")
		return p.Clone(), nil
	}
	return nil, errors.NewAppError(errors.DuplicatePending, "could not allocate a unique pending id")
}

func (s *FileStore) Get(ctx context.Context, id string) (*domain.PendingTransfer, error) {
	if !safeIDPattern.MatchString(id) {
		return nil, notFound(id)
	}
	return s.read(id)
}

func (s *FileStore) Update(ctx context.Context, id string, status domain.PendingStatus, outcome *domain.TransferOutcome) (*domain.PendingTransfer, error) {
	return s.Mutate(ctx, id, updateFunc(status, outcome))
}

// Mutate re-reads the record under its lock, applies fn and writes the result
// atomically. The lock is held while fn runs.
func (s *FileStore) Mutate(ctx context.Context, id string, fn domain.MutateFunc) (*domain.PendingTransfer, error) {
	if !safeIDPattern.MatchString(id) {
		return nil, notFound(id)
	}
	// Avoid leaving lock files behind for ids that never existed.
	if _, err := os.Stat(s.recordPath(id)); os.IsNotExist(err) {
		return nil, notFound(id)
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.read(id)
	if err != nil {
		return nil, err
	}

	next, changed, err := applyMutation(cur, fn, s.now())
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.write(next); err != nil {
			s.logger.Error().Err(err).Str("pending_id", id).Msg("failed to update pending transfer")
			return nil, errors.Wrap(errors.InternalError, "failed to update pending transfer", err)
		}
		s.logger.Debug().Str("pending_id", id).Str("status", string(next.Status)).Msg("pending transfer updated")
	}
	return next.Clone(), nil
}

// List returns matching records, newest first. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context, filter domain.PendingFilter) ([]*domain.PendingTransfer, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []*domain.PendingTransfer{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to list pending transfers", err)
	}

	records := []*domain.PendingTransfer{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		id := strings.TrimSuffix(name, recordExt)
		if !safeIDPattern.MatchString(id) {
			continue
		}
		p, err := s.read(id)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable pending record")
			continue
		}
		if filter.Match(p) {
			records = append(records, p)
		}
	}

	sortNewestFirst(records)
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if !safeIDPattern.MatchString(id) {
		return notFound(id)
	}
	if _, err := os.Stat(s.recordPath(id)); os.IsNotExist(err) {
		return notFound(id)
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.recordPath(id)); err != nil {
		if os.IsNotExist(err) {
			return notFound(id)
		}
		return errors.Wrap(errors.InternalError, "failed to delete pending transfer", err)
	}
	os.Remove(s.lockPath(id))

	s.logger.Info().Str("pending_id", id).Msg("pending transfer deleted")
	return nil
}

func (s *FileStore) read(id string) (*domain.PendingTransfer, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, errors.Wrap(errors.InternalError, "failed to read pending transfer", err)
	}

	var p domain.PendingTransfer
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(errors.InternalError, "corrupt pending transfer record", err)
	}
	p.ID = id
	return &p, nil
}

// write replaces the record atomically.
func (s *FileStore) write(p *domain.PendingTransfer) error {
	tmp, err := s.writeTemp(p)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.recordPath(p.ID)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// writeExclusive publishes the record only if no file with that id exists.
// The hard link fails with fs.ErrExist instead of overwriting.
func (s *FileStore) writeExclusive(p *domain.PendingTransfer) error {
	tmp, err := s.writeTemp(p)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	return os.Link(tmp, s.recordPath(p.ID))
}

func (s *FileStore) writeTemp(p *domain.PendingTransfer) (string, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.dir, "."+p.ID+".*.tmp")
	if err != nil {
		return "", err
	}
	name := f.Name()

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// lock takes the in-process lock for id, then the advisory file lock.
func (s *FileStore) lock(ctx context.Context, id string) (func(), error) {
	release, err := s.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}

	fileLock := flock.New(s.lockPath(id))
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrap(errors.InternalError, "failed to lock pending transfer", err)
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			s.logger.Warn().Err(err).Str("pending_id", id).Msg("failed to release pending lock")
		}
		release()
	}, nil
}

// keyedMutex is a set of per-key mutexes whose acquisition honours context cancellation.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.release(key, l)
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
