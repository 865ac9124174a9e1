package events

import (
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"credlend/core/types"
)

var bucketEvents = []byte("events")

// payloadProvider is implemented by event values that can render themselves as
// a canonical attribute payload.
type payloadProvider interface {
	Event() *types.Event
}

// journalEntry is the persisted representation of a single emitted event.
type journalEntry struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// Journal is an append-only, best-effort event sink backed by BoltDB. Writes
// happen outside the state transaction that produced the event, so a journal
// failure never rolls back a committed operation; failures are logged and
// dropped (at-most-once delivery).
type Journal struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenJournal initialises (and migrates) the journal database at path.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit appends the event to the journal. Implements the Emitter interface.
func (j *Journal) Emit(evt Event) {
	if j == nil || j.db == nil || evt == nil {
		return
	}
	entry := journalEntry{
		ID:        uuid.NewString(),
		Type:      evt.EventType(),
		EmittedAt: time.Now().UTC(),
	}
	if provider, ok := evt.(payloadProvider); ok {
		if payload := provider.Event(); payload != nil {
			entry.Type = payload.Type
			entry.Attributes = payload.Attributes
		}
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		j.logger.Warn("journal: encode event", "type", entry.Type, "error", err)
		return
	}
	if err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bucket.Put(key, encoded)
	}); err != nil {
		j.logger.Warn("journal: append event", "type", entry.Type, "error", err)
	}
}

// Tail returns up to limit of the most recently journalled events, newest
// last. Intended for the gateway's read-only event feed.
func (j *Journal) Tail(limit int) ([]*types.Event, error) {
	if j == nil || j.db == nil || limit <= 0 {
		return nil, nil
	}
	out := make([]*types.Event, 0, limit)
	err := j.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketEvents).Cursor()
		for k, v := cursor.Last(); k != nil && len(out) < limit; k, v = cursor.Prev() {
			var entry journalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			out = append(out, &types.Event{Type: entry.Type, Attributes: entry.Attributes})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Reverse so callers receive chronological order.
	for i, jx := 0, len(out)-1; i < jx; i, jx = i+1, jx-1 {
		out[i], out[jx] = out[jx], out[i]
	}
	return out, nil
}
