package metamgr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/memfabric/mmc/alloc"
	"github.com/memfabric/mmc/meta"
	"github.com/memfabric/mmc/wire"
)

// JournalEntry is one {key, blobDesc} record, written when a blob moves
// ALLOCATED --WRITE_OK--> DATA_READY (spec §4.8).
type JournalEntry struct {
	Key  string
	Blob wire.BlobDesc
}

// Journal is the rebuild log's storage contract. A MetaSvc restart
// replays every entry through Rebuild to repopulate the container and
// re-carve each allocator's free list before serving new requests.
type Journal interface {
	Append(e JournalEntry) error
	ReadAll() ([]JournalEntry, error)
	Close() error
}

// FileJournal appends length-prefixed wire-encoded records to a flat
// file, mirroring the same length-prefix-then-body shape the rpc
// transport uses for frames (spec §4.8 calls for "a simple append-only
// log", not a database; this keeps the on-disk format consistent with
// the rest of the system's wire conventions instead of introducing a
// second serialization scheme).
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func OpenFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("metamgr: open journal %s: %w", path, err)
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	enc := wire.NewEncoder()
	enc.String(e.Key)
	e.Blob.Encode(enc)
	body := enc.Bytes_()

	var lenBuf [4]byte
	lenBuf[0] = byte(len(body))
	lenBuf[1] = byte(len(body) >> 8)
	lenBuf[2] = byte(len(body) >> 16)
	lenBuf[3] = byte(len(body) >> 24)

	if _, err := j.f.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("metamgr: journal write length: %w", err)
	}
	if _, err := j.f.Write(body); err != nil {
		return fmt.Errorf("metamgr: journal write body: %w", err)
	}
	return j.f.Sync()
}

func (j *FileJournal) ReadAll() ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var out []JournalEntry
	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(j.f, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("metamgr: journal read length: %w", err)
		}
		n := uint32(lenBuf[0]) | uint32(lenBuf[1])<<8 | uint32(lenBuf[2])<<16 | uint32(lenBuf[3])<<24
		body := make([]byte, n)
		if _, err := io.ReadFull(j.f, body); err != nil {
			return nil, fmt.Errorf("metamgr: journal read body: %w", err)
		}
		dec := wire.NewDecoder(body)
		key := dec.String()
		blob := wire.DecodeBlobDesc(dec)
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("metamgr: journal decode record: %w", err)
		}
		out = append(out, JournalEntry{Key: key, Blob: blob})
	}
	if _, err := j.f.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// MemJournal is an in-memory Journal for tests.
type MemJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

func NewMemJournal() *MemJournal { return &MemJournal{} }

func (j *MemJournal) Append(e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *MemJournal) ReadAll() ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]JournalEntry, len(j.entries))
	copy(out, j.entries)
	return out, nil
}

func (j *MemJournal) Close() error { return nil }

// Rebuild replays every journaled entry into the container and re-carves
// each mounted allocator's free list, skipping blobs on a Location that
// has not (yet) been mounted — the location's own rank will mount it and
// journal its own view on restart (spec §4.8: "rebuild is best-effort per
// rank; a rank that hasn't rejoined the pod yet simply delays those
// objects' visibility").
func (m *MetaMgr) Rebuild() error {
	if m.journal == nil {
		return nil
	}
	entries, err := m.journal.ReadAll()
	if err != nil {
		return err
	}

	byLoc := map[alloc.Location][]alloc.Blob{}
	byKey := map[string][]wire.BlobDesc{}
	for _, e := range entries {
		loc := alloc.Location{Rank: e.Blob.Rank, Media: e.Blob.Media}
		byLoc[loc] = append(byLoc[loc], alloc.Blob{
			Rank: e.Blob.Rank, Media: e.Blob.Media, GVA: e.Blob.GVA, Size: e.Blob.Size,
		})
		byKey[e.Key] = append(byKey[e.Key], e.Blob)
	}

	for loc, blobs := range byLoc {
		a, ok := m.galloc.Get(loc)
		if !ok {
			m.log.Warnf("rebuild: location %+v not yet mounted, deferring %d blobs", loc, len(blobs))
			continue
		}
		if err := a.BuildFromBlobs(blobs); err != nil {
			return fmt.Errorf("metamgr: rebuild location %+v: %w", loc, err)
		}
	}

	for key, descs := range byKey {
		obj := meta.NewObject(key, 0)
		for _, d := range descs {
			if _, ok := m.galloc.Get(alloc.Location{Rank: d.Rank, Media: d.Media}); !ok {
				continue
			}
			b := meta.NewBlobMeta(d.Rank, d.Media)
			if _, err := b.ApplyAction(wire.ActionAllocOK); err != nil {
				return err
			}
			b.SetExtent(d.GVA, d.Size)
			if _, err := b.ApplyAction(wire.ActionWriteStart); err != nil {
				return err
			}
			if _, err := b.ApplyAction(wire.ActionWriteOK); err != nil {
				return err
			}
			obj.AddBlob(b)
		}
		if len(obj.Blobs) == 0 {
			continue
		}
		if err := m.objects.Insert(key, obj); err != nil {
			return fmt.Errorf("metamgr: rebuild insert key %q: %w", key, err)
		}
		m.metrics.ObjectsTotal.Inc()
	}
	return nil
}
