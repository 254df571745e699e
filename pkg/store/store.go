// Package store persists change-data sequences durably, keyed by
// (history entry ID, data ID).
//
// Each pair owns one append-only container file. Values stream into the
// container as they are computed, so memory use is bounded by batch size,
// not dataset size. A sealed flag in the header is the completion marker:
// retrieval refuses unsealed containers, and discarding is idempotent.
//
// Container layout:
//
//	header (32 bytes): magic, version, flags, record count, created-at
//	record: [8B u64 index][4B u32 length][payload][8B xxhash64]
//
// The checksum covers index, length and payload and lets retrieval detect
// torn or corrupted records. Records may be appended in any index order;
// ordering is restored on retrieval because indices are explicit.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
)

var (
	ErrNotFound     = errors.New("change data not found")
	ErrIncomplete   = errors.New("change data incomplete")
	ErrCorruptData  = errors.New("change data corrupted")
	ErrWriterClosed = errors.New("writer is closed")
)

const (
	containerMagic   uint32 = 0x47434453 // "GCDS"
	containerVersion uint32 = 1

	flagSealed uint32 = 1 << 0

	headerSize       = 32
	recordHeaderSize = 12
	recordHashSize   = 8

	containerExt = ".cd"
	fileModePerm = 0644
	dirModePerm  = 0755
)

// Record is one retrieved change-data value: the unit index and the opaque
// serialized payload.
type Record struct {
	Index   int
	Payload []byte
}

// Option tunes a Store.
type Option func(*Store)

// WithLogger overrides the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.With("component", "change-data-store")
		}
	}
}

// WithSyncEveryAppend enables fsync after every appended record. Slower,
// but a crash then loses at most the record being written.
func WithSyncEveryAppend() Option {
	return func(s *Store) { s.syncEveryAppend = true }
}

// Store is a directory-backed change-data store. Concurrent use across
// distinct history entry IDs is fully parallel; operations on the same
// entry ID are serialized.
type Store struct {
	dir             string
	logger          *slog.Logger
	syncEveryAppend bool

	mu        sync.Mutex
	entryLock map[uint64]*sync.Mutex
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, dirModePerm); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{
		dir:       dir,
		logger:    slog.Default().With("component", "change-data-store"),
		entryLock: make(map[uint64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) lockEntry(entryID uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.entryLock[entryID]
	if !ok {
		l = &sync.Mutex{}
		s.entryLock[entryID] = l
	}
	return l
}

func (s *Store) entryDir(entryID uint64) string {
	return filepath.Join(s.dir, strconv.FormatUint(entryID, 10))
}

func (s *Store) containerPath(entryID uint64, dataID string) string {
	return filepath.Join(s.entryDir(entryID), dataID+containerExt)
}

// NewWriter opens a streaming writer for (entryID, dataID). Any prior data
// for the pair, complete or partial, is discarded first: re-computation is
// never merged with an earlier attempt.
func (s *Store) NewWriter(entryID uint64, dataID string) (*Writer, error) {
	lock := s.lockEntry(entryID)
	lock.Lock()
	defer lock.Unlock()

	path := s.containerPath(entryID, dataID)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("discard prior data: %w", err)
	}
	if err := os.MkdirAll(s.entryDir(entryID), dirModePerm); err != nil {
		return nil, fmt.Errorf("create entry dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, fileModePerm)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	w := &Writer{
		store:   s,
		file:    f,
		path:    path,
		entryID: entryID,
		dataID:  dataID,
	}
	if err := w.writeHeader(0, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	// WriteAt does not advance the cursor; appends start past the header.
	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("seek past header: %w", err)
	}
	s.logger.Debug("opened change data writer", "entry_id", entryID, "data_id", dataID)
	return w, nil
}

// Retrieve returns the previously stored records for (entryID, dataID) in
// ascending index order. It fails with ErrNotFound when nothing was stored
// and ErrIncomplete when the container was never sealed.
func (s *Store) Retrieve(entryID uint64, dataID string) ([]Record, error) {
	path := s.containerPath(entryID, dataID)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: entry %d data %q", ErrNotFound, entryID, dataID)
		}
		return nil, fmt.Errorf("open container: %w", err)
	}
	defer f.Close()

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap container: %w", err)
	}
	defer data.Unmap()

	records, err := decodeContainer(data)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

// Completed reports whether a sealed container exists for the pair.
func (s *Store) Completed(entryID uint64, dataID string) bool {
	data, err := os.ReadFile(s.containerPath(entryID, dataID))
	if err != nil || len(data) < headerSize {
		return false
	}
	_, flags, _, err := decodeHeader(data)
	return err == nil && flags&flagSealed != 0
}

// DiscardAll removes all data, complete or partial, stored under an entry
// ID. It is idempotent and safe to call for IDs never written.
func (s *Store) DiscardAll(entryID uint64) error {
	lock := s.lockEntry(entryID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.entryDir(entryID)); err != nil {
		return fmt.Errorf("discard entry %d: %w", entryID, err)
	}
	s.logger.Debug("discarded change data", "entry_id", entryID)
	return nil
}

// Writer streams one change-data sequence into its container. Append is
// safe for concurrent use by partition goroutines. Exactly one of
// Complete or Abort must end the writer's life.
type Writer struct {
	store   *Store
	entryID uint64
	dataID  string
	path    string

	mu     sync.Mutex
	file   *os.File
	count  int64
	closed bool
}

func (w *Writer) writeHeader(count int64, flags uint32) error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], containerMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], containerVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], flags)
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(count))
	if _, err := w.file.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// Append stores one serialized value under its unit index.
func (w *Writer) Append(index int, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	buf := make([]byte, recordHeaderSize+len(payload)+recordHashSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(index))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[recordHeaderSize:], payload)
	sum := xxhash.Sum64(buf[:recordHeaderSize+len(payload)])
	binary.LittleEndian.PutUint64(buf[recordHeaderSize+len(payload):], sum)

	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	w.count++
	if w.store.syncEveryAppend {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("sync record: %w", err)
		}
	}
	return nil
}

// Count returns the number of records appended so far.
func (w *Writer) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Complete seals the container, marking the sequence as fully persisted.
// A sealed container is immutable.
func (w *Writer) Complete() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true

	if err := w.writeHeader(w.count, flagSealed); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync container: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close container: %w", err)
	}
	w.store.logger.Debug("sealed change data container",
		"entry_id", w.entryID,
		"data_id", w.dataID,
		"records", w.count)
	return nil
}

// Abort drops the partial container. Safe to call after Complete or a
// prior Abort; later calls are no-ops.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.file.Close()
	if err := os.Remove(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove partial container: %w", err)
	}
	return nil
}

func decodeHeader(data []byte) (version uint32, flags uint32, count int64, err error) {
	if len(data) < headerSize {
		return 0, 0, 0, fmt.Errorf("%w: truncated header", ErrCorruptData)
	}
	if binary.LittleEndian.Uint32(data[0:4]) != containerMagic {
		return 0, 0, 0, fmt.Errorf("%w: bad magic", ErrCorruptData)
	}
	version = binary.LittleEndian.Uint32(data[4:8])
	if version != containerVersion {
		return 0, 0, 0, fmt.Errorf("%w: unsupported version %d", ErrCorruptData, version)
	}
	flags = binary.LittleEndian.Uint32(data[8:12])
	count = int64(binary.LittleEndian.Uint64(data[16:24]))
	return version, flags, count, nil
}

func decodeContainer(data []byte) ([]Record, error) {
	_, flags, count, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if flags&flagSealed == 0 {
		return nil, ErrIncomplete
	}

	records := make([]Record, 0, count)
	off := headerSize
	for off < len(data) {
		if off+recordHeaderSize > len(data) {
			return nil, fmt.Errorf("%w: truncated record header at %d", ErrCorruptData, off)
		}
		index := binary.LittleEndian.Uint64(data[off : off+8])
		length := int(binary.LittleEndian.Uint32(data[off+8 : off+12]))
		end := off + recordHeaderSize + length
		if end+recordHashSize > len(data) {
			return nil, fmt.Errorf("%w: truncated record at %d", ErrCorruptData, off)
		}
		want := binary.LittleEndian.Uint64(data[end : end+recordHashSize])
		if got := xxhash.Sum64(data[off:end]); got != want {
			return nil, fmt.Errorf("%w: checksum mismatch at %d", ErrCorruptData, off)
		}
		payload := make([]byte, length)
		copy(payload, data[off+recordHeaderSize:end])
		records = append(records, Record{Index: int(index), Payload: payload})
		off = end + recordHashSize
	}
	if int64(len(records)) != count {
		return nil, fmt.Errorf("%w: record count %d does not match header %d", ErrCorruptData, len(records), count)
	}
	return records, nil
}
