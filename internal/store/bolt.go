// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/watchthefall/portal/internal/log"
)

var (
	bucketJobs   = []byte("b_jobs")
	bucketEvents = []byte("b_events")
)

// maxRetainedEvents bounds the activity log; older entries are pruned on
// append so the file cannot grow without limit.
const maxRetainedEvents = 1000

// BoltStore is a bbolt-backed Store. bbolt serialises writers through a
// single update transaction, which gives us the single-writer serialisation
// point the job table needs without any extra locking.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the store under dir. The directory must exist;
// the database file is created on first open.
func OpenBolt(dir string) (*BoltStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: data directory required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("store: data directory missing: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store: %s is not a directory", dir)
	}

	db, err := bolt.Open(filepath.Join(dir, "jobs.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketJobs, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error { return b.db.Close() }

func (b *BoltStore) CreateJob(ctx context.Context, job *Job) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketJobs)
		if bkt.Get([]byte(job.ID)) != nil {
			return ErrDuplicateJob
		}
		val, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := bkt.Put([]byte(job.ID), val); err != nil {
			return err
		}
		return appendEventTx(tx, Event{
			Severity: "info",
			JobID:    job.ID,
			Message:  fmt.Sprintf("job created: %s (%s, %s)", job.SourceFilename, job.Template, job.AspectRatio),
			At:       job.CreatedAt,
		})
	})
}

func (b *BoltStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := b.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(bucketJobs).Get([]byte(id))
		if val == nil {
			return ErrNotFound
		}
		var rec Job
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		job = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (b *BoltStore) UpdateStatus(ctx context.Context, id string, status Status, outputPath, errMsg string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketJobs)
		val := bkt.Get([]byte(id))
		if val == nil {
			return ErrUnknownJob
		}
		var job Job
		if err := json.Unmarshal(val, &job); err != nil {
			return err
		}
		old := job.Status
		if err := applyTransition(&job, status, outputPath, errMsg); err != nil {
			return fmt.Errorf("%w: %s -> %s", err, old, status)
		}
		job.UpdatedAt = time.Now().UTC()

		newVal, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		if err := bkt.Put([]byte(id), newVal); err != nil {
			return err
		}

		severity := "info"
		msg := fmt.Sprintf("status %s -> %s", old, status)
		if status == StatusFailed {
			severity = "error"
			msg = fmt.Sprintf("status %s -> failed: %s", old, errMsg)
		}
		return appendEventTx(tx, Event{Severity: severity, JobID: id, Message: msg, At: job.UpdatedAt})
	})
}

func (b *BoltStore) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	var jobs []*Job
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Job
			if err := json.Unmarshal(v, &rec); err != nil {
				logger := log.L()
				logger.Warn().Str("key", string(k)).Err(err).Msg("skipping corrupt job record")
				continue
			}
			jobs = append(jobs, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (b *BoltStore) AppendEvent(ctx context.Context, ev Event) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return appendEventTx(tx, ev)
	})
}

func (b *BoltStore) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	var events []Event
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(events) < limit); k, v = c.Prev() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// appendEventTx writes an event inside an open update transaction so job
// mutations and their log entries commit atomically.
func appendEventTx(tx *bolt.Tx, ev Event) error {
	bkt := tx.Bucket(bucketEvents)
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	seq, err := bkt.NextSequence()
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)

	val, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := bkt.Put(key, val); err != nil {
		return err
	}

	// Prune entries older than the retention window. Keys are the monotonic
	// sequence number, so everything at or below seq-max is expired.
	if seq > maxRetainedEvents {
		cutoff := make([]byte, 8)
		binary.BigEndian.PutUint64(cutoff, seq-maxRetainedEvents)
		for {
			k, _ := bkt.Cursor().First()
			if k == nil || string(k) > string(cutoff) {
				break
			}
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}
