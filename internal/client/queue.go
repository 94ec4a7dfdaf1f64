package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var uploadsBucket = []byte("uploads")

// QueuedUpload is a capture that still has to reach the asset store.
type QueuedUpload struct {
	ID         string    `json:"id"`
	Data       []byte    `json:"data"`
	Room       string    `json:"room,omitempty"`
	SessionID  string    `json:"session_id"`
	PeerIndex  int       `json:"peer_index"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

// UploadFunc is the upload that Drain retries. It must be safe to repeat.
// Returning ErrSkip leaves the item queued untouched.
type UploadFunc func(ctx context.Context, item QueuedUpload) error

var ErrSkip = errors.New("skip queued item")

// Queue is a durable local store of pending uploads backed by bbolt.
type Queue struct {
	db *bolt.DB
}

func OpenQueue(path string) (*Queue, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(uploadsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init queue: %w", err)
	}
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue persists item before returning. An empty ID gets a fresh one; an
// existing ID is overwritten.
func (q *Queue) Enqueue(item QueuedUpload) (string, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	err = q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(uploadsBucket).Put([]byte(item.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", item.ID, err)
	}
	return item.ID, nil
}

// Items lists the pending uploads in key order.
func (q *Queue) Items() ([]QueuedUpload, error) {
	var out []QueuedUpload
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(uploadsBucket).ForEach(func(_, v []byte) error {
			var it QueuedUpload
			if err := json.Unmarshal(v, &it); err != nil {
				return err
			}
			out = append(out, it)
			return nil
		})
	})
	return out, err
}

func (q *Queue) Len() int {
	n := 0
	_ = q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(uploadsBucket).Stats().KeyN
		return nil
	})
	return n
}

// Drain runs upload for each pending item. Successful items are removed; a
// failed one stays queued with its attempt count bumped. It returns how many
// items were delivered.
func (q *Queue) Drain(ctx context.Context, upload UploadFunc) (int, error) {
	items, err := q.Items()
	if err != nil {
		return 0, err
	}

	delivered := 0
	var errs []error
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		if err := upload(ctx, it); err != nil {
			if errors.Is(err, ErrSkip) {
				continue
			}
			it.Attempts++
			if _, perr := q.Enqueue(it); perr != nil {
				errs = append(errs, perr)
			}
			slog.Warn("queue upload failed", "id", it.ID, "session", it.SessionID, "attempts", it.Attempts, "err", err)
			continue
		}

		if err := q.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(uploadsBucket).Delete([]byte(it.ID))
		}); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}
