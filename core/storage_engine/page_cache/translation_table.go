package pagecache

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultTranslationStripes = 64

// translationTable maps the page ids of one PagedFile to the frames holding
// them. It is striped so that faults on different pages rarely contend.
type translationTable struct {
	mask    uint64
	stripes []translationStripe
}

type translationStripe struct {
	mu     sync.RWMutex
	frames map[int64]int32
	_      [32]byte
}

// newTranslationTable rounds stripes up to a power of two.
func newTranslationTable(stripes int) *translationTable {
	n := 1
	for n < stripes {
		n <<= 1
	}
	t := &translationTable{mask: uint64(n - 1), stripes: make([]translationStripe, n)}
	for i := range t.stripes {
		t.stripes[i].frames = make(map[int64]int32)
	}
	return t
}

func (t *translationTable) stripe(pageID int64) *translationStripe {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], uint64(pageID))
	return &t.stripes[xxhash.Sum64(key[:])&t.mask]
}

func (t *translationTable) get(pageID int64) (int32, bool) {
	s := t.stripe(pageID)
	s.mu.RLock()
	idx, ok := s.frames[pageID]
	s.mu.RUnlock()
	return idx, ok
}

// putIfAbsent installs pageID -> idx unless another frame got there first, in
// which case the existing frame is returned with false.
func (t *translationTable) putIfAbsent(pageID int64, idx int32) (int32, bool) {
	s := t.stripe(pageID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.frames[pageID]; ok {
		return existing, false
	}
	s.frames[pageID] = idx
	return idx, true
}

// removeIf deletes the entry only if it still points at idx.
func (t *translationTable) removeIf(pageID int64, idx int32) bool {
	s := t.stripe(pageID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.frames[pageID]; ok && existing == idx {
		delete(s.frames, pageID)
		return true
	}
	return false
}

type translationEntry struct {
	pageID int64
	frame  int32
}

// entries returns a point-in-time copy of the resident pages. Entries may be
// stale by the time the caller looks at them, so every user re-checks the
// frame binding under the frame's own lock.
func (t *translationTable) entries() []translationEntry {
	var out []translationEntry
	for i := range t.stripes {
		s := &t.stripes[i]
		s.mu.RLock()
		for pageID, idx := range s.frames {
			out = append(out, translationEntry{pageID: pageID, frame: idx})
		}
		s.mu.RUnlock()
	}
	return out
}

func (t *translationTable) len() int {
	n := 0
	for i := range t.stripes {
		s := &t.stripes[i]
		s.mu.RLock()
		n += len(s.frames)
		s.mu.RUnlock()
	}
	return n
}
