// Package pagebuffer implements the LRU page cache that sits between the
// file-backed binary storage variant and the underlying file. Eviction is
// strict FIFO of insertions, which approximates LRU under the read-mostly
// workloads this engine expects (spec.md §4.2).
package pagebuffer

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"kvcore/pkg/kverrors"
)

// Buffer is an LRU page cache over a single afero.File.
//
// Update never loads a page in order to mutate it: it always writes
// through to the file first, and only refreshes the cached copy of a page
// that is already resident. This makes the file authoritative at all
// times, resolving the ambiguity spec.md §9 flags in the source's
// FileSyncedBuffer.
type Buffer struct {
	file     afero.File
	pageSize uint64
	maxPages int

	pages map[uint64][]byte // resident pages, keyed by page index
	order []uint64          // insertion order, oldest first, for FIFO eviction

	log *logrus.Logger
}

// New creates a page buffer over file with the given page size and maximum
// resident page count. maxPages == 0 disables caching entirely.
func New(file afero.File, pageSize uint64, maxPages int, log *logrus.Logger) *Buffer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Buffer{
		file:     file,
		pageSize: pageSize,
		maxPages: maxPages,
		pages:    make(map[uint64][]byte),
		log:      log,
	}
}

func (b *Buffer) pageIndex(offset uint64) uint64 { return offset / b.pageSize }

// fetch returns the full page at index, reading through to the file if not
// resident. The returned slice may be shorter than pageSize at EOF.
func (b *Buffer) fetch(index uint64) ([]byte, error) {
	if cached, ok := b.pages[index]; ok {
		return cached, nil
	}

	buf := make([]byte, b.pageSize)
	n, err := b.file.ReadAt(buf, int64(index*b.pageSize))
	if err != nil && err != io.EOF {
		return nil, kverrors.Wrap(kverrors.IO, err)
	}
	page := buf[:n]

	b.insert(index, page)
	return page, nil
}

// insert adds a page to the resident set, evicting the oldest insertions
// until the resident count is within maxPages. A maxPages of 0 means the
// page is never retained.
func (b *Buffer) insert(index uint64, data []byte) {
	if b.maxPages == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.pages[index] = cp
	b.order = append(b.order, index)
	b.evict()
}

func (b *Buffer) evict() {
	for len(b.pages) > b.maxPages {
		oldest := b.order[0]
		b.order = b.order[1:]
		// The same index may appear multiple times in order (re-inserted
		// after eviction); only drop it from pages the first time we see it
		// still resident under that insertion.
		if _, ok := b.pages[oldest]; ok {
			delete(b.pages, oldest)
		}
	}
}

// Read resolves len bytes starting at offset to one or more page fetches,
// concatenating partial pages and stopping early at end-of-file.
func (b *Buffer) Read(offset, length uint64) ([]byte, error) {
	out := make([]byte, 0, length)
	for uint64(len(out)) < length {
		curOffset := offset + uint64(len(out))
		index := b.pageIndex(curOffset)
		page, err := b.fetch(index)
		if err != nil {
			return nil, err
		}
		withinPage := curOffset - index*b.pageSize
		if withinPage >= uint64(len(page)) {
			break // EOF within this page
		}
		avail := page[withinPage:]
		want := length - uint64(len(out))
		if uint64(len(avail)) > want {
			avail = avail[:want]
		}
		out = append(out, avail...)
		if uint64(len(avail)) < uint64(len(page))-withinPage {
			break // page returned less than requested: EOF
		}
	}
	return out, nil
}

// Update writes data through to the file at offset, then refreshes any
// resident pages the write touched. It never pulls an unresident page in.
func (b *Buffer) Update(offset uint64, data []byte) error {
	if _, err := b.file.WriteAt(data, int64(offset)); err != nil {
		return kverrors.Wrap(kverrors.IO, err)
	}

	remaining := data
	curOffset := offset
	for len(remaining) > 0 {
		index := b.pageIndex(curOffset)
		withinPage := curOffset - index*b.pageSize
		if cached, ok := b.pages[index]; ok {
			needLen := withinPage + uint64(len(remaining))
			if needLen > uint64(len(cached)) {
				grown := make([]byte, needLen)
				copy(grown, cached)
				cached = grown
				b.pages[index] = cached
			}
			n := uint64(len(cached)) - withinPage
			if n > uint64(len(remaining)) {
				n = uint64(len(remaining))
			}
			copy(cached[withinPage:withinPage+n], remaining[:n])
		}
		step := b.pageSize - withinPage
		if step > uint64(len(remaining)) {
			step = uint64(len(remaining))
		}
		remaining = remaining[step:]
		curOffset += step
	}
	return nil
}

// Truncate drops all pages beyond len/pageSize and truncates the straddling
// page's valid length.
func (b *Buffer) Truncate(length uint64) error {
	if err := b.file.Truncate(int64(length)); err != nil {
		return kverrors.Wrap(kverrors.IO, err)
	}
	lastIndex := length / b.pageSize
	for idx, page := range b.pages {
		switch {
		case idx > lastIndex:
			delete(b.pages, idx)
		case idx == lastIndex:
			validLen := length - idx*b.pageSize
			if uint64(len(page)) > validLen {
				b.pages[idx] = page[:validLen]
			}
		}
	}
	b.compactOrder()
	return nil
}

func (b *Buffer) compactOrder() {
	kept := b.order[:0]
	for _, idx := range b.order {
		if _, ok := b.pages[idx]; ok {
			kept = append(kept, idx)
		}
	}
	b.order = kept
}

// SetMaxPages evicts oldest pages until the resident count is <= n. n == 0
// disables caching: every subsequent read is a file I/O with no insertion.
func (b *Buffer) SetMaxPages(n int) {
	b.maxPages = n
	if n == 0 {
		b.pages = make(map[uint64][]byte)
		b.order = nil
		return
	}
	b.evict()
	b.compactOrder()
	b.log.WithField("max_pages", n).Debug("pagebuffer: resized")
}
