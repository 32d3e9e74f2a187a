package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/storage"
)

// BadgerStorage implements the Storage interface using BadgerDB
type BadgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage opens a BadgerDB at path. An empty path opens an
// in-memory database that is discarded on Close.
func NewBadgerStorage(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStorage{db: db}, nil
}

// Hierarchical key schema:
//
//	job/<job>
//	job/<job>/run/<run>
//	job/<job>/run/<run>/poll/<session>
//	idx/run/<run>     -> primary run key
//	idx/poll/<session> -> primary session key
func jobKey(id string) []byte {
	return []byte(fmt.Sprintf("job/%s", id))
}

func runKey(jobID, runID string) []byte {
	return []byte(fmt.Sprintf("job/%s/run/%s", jobID, runID))
}

func sessionKey(jobID, runID, sessionID string) []byte {
	return []byte(fmt.Sprintf("job/%s/run/%s/poll/%s", jobID, runID, sessionID))
}

func runIndexKey(runID string) []byte {
	return []byte(fmt.Sprintf("idx/run/%s", runID))
}

func sessionIndexKey(sessionID string) []byte {
	return []byte(fmt.Sprintf("idx/poll/%s", sessionID))
}

func isRunKey(key string) bool {
	return strings.Contains(key, "/run/") && !strings.Contains(key, "/poll/")
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// resolveIndex follows an index key to the primary key it points at
func resolveIndex(txn *badger.Txn, idx []byte) ([]byte, error) {
	item, err := txn.Get(idx)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func notFound(err error, what, id string) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, storage.ErrNotFound)
	}
	return err
}

// Job operations

func (s *BadgerStorage) SaveJob(ctx context.Context, job *storage.Job) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var existing storage.Job
		err := getJSON(txn, jobKey(job.ID), &existing)
		switch {
		case err == nil:
			job.CreatedAt = existing.CreatedAt
			if job.LastRunTime == nil {
				job.LastRunTime = existing.LastRunTime
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			job.CreatedAt = time.Now()
		default:
			return err
		}

		job.UpdatedAt = time.Now()
		return putJSON(txn, jobKey(job.ID), job)
	})
}

func (s *BadgerStorage) GetJob(ctx context.Context, jobID string) (*storage.Job, error) {
	var job storage.Job
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, jobKey(jobID), &job)
	})
	if err != nil {
		return nil, notFound(err, "job", jobID)
	}
	return &job, nil
}

func (s *BadgerStorage) ListJobs(ctx context.Context) ([]*storage.Job, error) {
	var jobs []*storage.Job

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("job/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			// Skip runs and sessions nested under the job
			if strings.Count(string(item.Key()), "/") > 1 {
				continue
			}

			err := item.Value(func(val []byte) error {
				var job storage.Job
				if err := json.Unmarshal(val, &job); err != nil {
					return err
				}
				jobs = append(jobs, &job)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return jobs, err
}

// Run operations

func (s *BadgerStorage) CreateRun(ctx context.Context, run *cyclesync.Run) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := runKey(run.JobID, run.ID)

		// Atomic create-if-not-exists
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("run %s: %w", run.ID, storage.ErrAlreadyExists)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := putJSON(txn, key, run); err != nil {
			return err
		}
		return txn.Set(runIndexKey(run.ID), key)
	})
}

func (s *BadgerStorage) GetRun(ctx context.Context, runID string) (*cyclesync.Run, error) {
	var run cyclesync.Run
	err := s.db.View(func(txn *badger.Txn) error {
		key, err := resolveIndex(txn, runIndexKey(runID))
		if err != nil {
			return err
		}
		return getJSON(txn, key, &run)
	})
	if err != nil {
		return nil, notFound(err, "run", runID)
	}
	return &run, nil
}

func (s *BadgerStorage) UpdateRun(ctx context.Context, run *cyclesync.Run) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := runKey(run.JobID, run.ID)

		if _, err := txn.Get(key); err != nil {
			return notFound(err, "run", run.ID)
		}

		run.UpdatedAt = time.Now()
		return putJSON(txn, key, run)
	})
}

func (s *BadgerStorage) ListRunsByJobID(ctx context.Context, jobID string) ([]*cyclesync.Run, error) {
	return s.listRuns([]byte(fmt.Sprintf("job/%s/run/", jobID)), func(*cyclesync.Run) bool { return true })
}

func (s *BadgerStorage) ListRunningRuns(ctx context.Context) ([]*cyclesync.Run, error) {
	return s.listRuns([]byte("job/"), func(run *cyclesync.Run) bool {
		return run.Status == cyclesync.RunStatusRunning
	})
}

func (s *BadgerStorage) ListStaleRuns(ctx context.Context, threshold time.Duration) ([]*cyclesync.Run, error) {
	cutoff := time.Now().Add(-threshold)
	return s.listRuns([]byte("job/"), func(run *cyclesync.Run) bool {
		return storage.IsStale(run, cutoff)
	})
}

func (s *BadgerStorage) listRuns(prefix []byte, keep func(*cyclesync.Run) bool) ([]*cyclesync.Run, error) {
	var runs []*cyclesync.Run

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if !isRunKey(string(item.Key())) {
				continue
			}

			err := item.Value(func(val []byte) error {
				var run cyclesync.Run
				if err := json.Unmarshal(val, &run); err != nil {
					return err
				}
				if keep(&run) {
					runs = append(runs, &run)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return runs, err
}

// Poll session operations

func (s *BadgerStorage) SavePollSession(ctx context.Context, session *storage.PollSession) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := sessionKey(session.JobID, session.RunID, session.ID)
		if err := putJSON(txn, key, session); err != nil {
			return err
		}
		return txn.Set(sessionIndexKey(session.ID), key)
	})
}

func (s *BadgerStorage) GetPollSession(ctx context.Context, sessionID string) (*storage.PollSession, error) {
	var session storage.PollSession
	err := s.db.View(func(txn *badger.Txn) error {
		key, err := resolveIndex(txn, sessionIndexKey(sessionID))
		if err != nil {
			return err
		}
		return getJSON(txn, key, &session)
	})
	if err != nil {
		return nil, notFound(err, "poll session", sessionID)
	}
	return &session, nil
}

func (s *BadgerStorage) ListPollSessionsByRunID(ctx context.Context, runID string) ([]*storage.PollSession, error) {
	var sessions []*storage.PollSession

	err := s.db.View(func(txn *badger.Txn) error {
		runPrimary, err := resolveIndex(txn, runIndexKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = append(runPrimary, []byte("/poll/")...)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var session storage.PollSession
				if err := json.Unmarshal(val, &session); err != nil {
					return err
				}
				sessions = append(sessions, &session)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return sessions, err
}

// Close closes the database
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
