// Package history maintains the append-only log of applied operations.
//
// Each entry references the operation that produced it and the change data
// it persisted. The current dataset state is the fold of all entries in
// append order; entries are never mutated after append. The log is backed
// by BoltDB so it survives restarts, and entry IDs are allocated from a
// process-wide atomic counter seeded from the persisted maximum (reset
// only when the log is reopened, never reused).
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/gridwell/gridwell/pkg/store"
)

var (
	bucketEntries = []byte("entries")
)

var (
	// ErrEntryExists is returned when an entry ID is appended twice.
	ErrEntryExists = errors.New("history entry already appended")
)

// OperationRef identifies the operation that produced an entry: its type
// tag plus the raw configuration it was created from, so the entry is
// reconstructable without the live operation object.
type OperationRef struct {
	Type   string          `json:"op"`
	Config json.RawMessage `json:"config,omitempty"`
}

// DataRef describes the change data an entry carries and how it is merged
// back into the grid.
type DataRef struct {
	DataID            string `json:"dataId"`
	NewColumnName     string `json:"newColumnName"`
	ColumnInsertIndex int    `json:"columnInsertIndex"`
	MergeMode         string `json:"mode"`
	Serializer        string `json:"serializer"`
}

// Entry is one immutable record of the history log.
type Entry struct {
	ID          uint64       `json:"id"`
	Description string       `json:"description"`
	Operation   OperationRef `json:"operation"`
	Data        DataRef      `json:"data"`
}

// EntryCallback is invoked after an entry becomes visible in the log.
type EntryCallback func(entry Entry)

// Config holds history configuration options.
type Config struct {
	// DBPath is the BoltDB file backing the log.
	DBPath string

	// ChangeDataStore is the store entries reference for their data.
	ChangeDataStore *store.Store

	Logger *slog.Logger
}

// History is the append-only, ordered entry log.
type History struct {
	db     *bolt.DB
	cds    *store.Store
	logger *slog.Logger

	nextID atomic.Uint64

	mu        sync.RWMutex
	callbacks []EntryCallback
}

// Open opens (creating if needed) a history log.
func Open(cfg Config) (*History, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := bolt.Open(cfg.DBPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	h := &History{
		db:     db,
		cds:    cfg.ChangeDataStore,
		logger: cfg.Logger.With("component", "history"),
	}

	// Seed the ID allocator from the largest persisted entry ID so IDs
	// stay strictly increasing across restarts.
	var maxID uint64
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketEntries)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			if e.ID > maxID {
				maxID = e.ID
			}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	h.nextID.Store(maxID)

	return h, nil
}

// AllocateID reserves the next history entry ID. IDs are unique and
// strictly increasing in allocation order; an allocated ID that is never
// appended (failed or canceled process) is simply skipped.
func (h *History) AllocateID() uint64 {
	return h.nextID.Add(1)
}

// ChangeDataStore returns the store holding the entries' change data.
func (h *History) ChangeDataStore() *store.Store { return h.cds }

// RegisterCallback adds a callback for appended entries.
func (h *History) RegisterCallback(cb EntryCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, cb)
}

// AddEntry appends an entry to the log. Entries become visible strictly in
// append order and are never partially visible.
func (h *History) AddEntry(entry Entry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	err = h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if err := b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.ID == entry.ID {
				return ErrEntryExists
			}
			return nil
		}); err != nil {
			return err
		}

		pos, err := b.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], pos)
		return b.Put(key[:], encoded)
	})
	if err != nil {
		if errors.Is(err, ErrEntryExists) {
			return fmt.Errorf("%w: id %d", ErrEntryExists, entry.ID)
		}
		return fmt.Errorf("append entry: %w", err)
	}

	h.logger.Info("history entry appended",
		"entry_id", entry.ID,
		"description", entry.Description,
		"data_id", entry.Data.DataID)

	h.mu.RLock()
	callbacks := h.callbacks
	h.mu.RUnlock()
	for _, cb := range callbacks {
		cb(entry)
	}
	return nil
}

// Entries returns all entries in append order.
func (h *History) Entries() ([]Entry, error) {
	var entries []Entry
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// EntryByID returns the entry with the given ID, or ErrNotFound.
func (h *History) EntryByID(id uint64) (*Entry, error) {
	entries, err := h.Entries()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("entry %d: %w", id, store.ErrNotFound)
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}
