package storage

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"kvcore/pkg/bytesutil"
	"kvcore/pkg/kverrors"
	"kvcore/pkg/pagebuffer"
)

// FileStorage is the file-backed Storage variant: an afero.File plus a
// pagebuffer.Buffer that transparently pages file I/O. Using afero.Fs
// rather than *os.File directly lets the same code run against
// afero.NewMemMapFs() in tests with no real filesystem involved.
type FileStorage struct {
	TypedCodec

	fs   afero.Fs
	path string
	file afero.File
	buf  *pagebuffer.Buffer

	pageSize   uint64
	maxPages   int
	capacity   uint64
	expandSize uint64
	open       bool

	log *logrus.Logger
}

// FileStorageOption configures optional FileStorage parameters.
type FileStorageOption func(*FileStorage)

// WithFilesystem overrides the afero.Fs FileStorage opens path against.
// Defaults to afero.NewOsFs().
func WithFilesystem(fs afero.Fs) FileStorageOption {
	return func(f *FileStorage) { f.fs = fs }
}

// WithPageBuffer sets the page size and max resident page count of the
// underlying pagebuffer.Buffer. Defaults to a 4096-byte page and 64 pages.
func WithPageBuffer(pageSize uint64, maxPages int) FileStorageOption {
	return func(f *FileStorage) { f.pageSize, f.maxPages = pageSize, maxPages }
}

// WithLogger injects a logger for recovery/maintenance diagnostics.
func WithLogger(log *logrus.Logger) FileStorageOption {
	return func(f *FileStorage) { f.log = log }
}

// NewFileStorage validates initialCapacity/expandSize and returns a closed
// FileStorage over path, ready to Open.
func NewFileStorage(path string, initialCapacity, expandSize uint64, opts ...FileStorageOption) (*FileStorage, error) {
	if err := validateCtorParams(initialCapacity, expandSize); err != nil {
		return nil, err
	}
	f := &FileStorage{
		path:       path,
		pageSize:   4096,
		maxPages:   64,
		capacity:   initialCapacity,
		expandSize: expandSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.fs == nil {
		f.fs = afero.NewOsFs()
	}
	if f.log == nil {
		f.log = logrus.StandardLogger()
	}
	f.TypedCodec = TypedCodec{Raw: f}
	return f, nil
}

func (f *FileStorage) Open() error {
	if err := checkClosed(f.open); err != nil {
		return err
	}
	file, err := f.fs.OpenFile(f.path, fileOpenFlags(), 0o644)
	if err != nil {
		return kverrors.Wrap(kverrors.IO, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return kverrors.Wrap(kverrors.IO, err)
	}

	f.file = file
	f.buf = pagebuffer.New(file, f.pageSize, f.maxPages, f.log)
	f.open = true

	if uint64(info.Size()) < f.capacity {
		if err := file.Truncate(int64(f.capacity)); err != nil {
			_ = f.Close()
			return kverrors.Wrap(kverrors.IO, err)
		}
	} else {
		f.capacity = uint64(info.Size())
	}
	return nil
}

func (f *FileStorage) Close() error {
	if err := checkOpen(f.open); err != nil {
		return err
	}
	err := f.file.Close()
	f.file = nil
	f.buf = nil
	f.open = false
	if err != nil {
		return kverrors.Wrap(kverrors.IO, err)
	}
	return nil
}

func (f *FileStorage) IsOpen() bool { return f.open }

func (f *FileStorage) GetCapacity() uint64   { return f.capacity }
func (f *FileStorage) GetExpandSize() uint64 { return f.expandSize }

func (f *FileStorage) SetExpandSize(n uint64) error {
	if n == 0 {
		return kverrors.Assert(kverrors.CondExpandSizeTooSmall)
	}
	if !bytesutil.IsPowerOfTwo(n) {
		return kverrors.Assert(kverrors.CondExpandSizeNotPowerOfTwo)
	}
	f.expandSize = n
	return nil
}

// Expand grows the file length (and the page buffer's notion of capacity)
// to the smallest multiple of expandSize >= minCapacity.
func (f *FileStorage) Expand(minCapacity uint64) error {
	if err := checkOpen(f.open); err != nil {
		return err
	}
	if minCapacity <= f.capacity {
		return nil
	}
	newCap := bytesutil.NextMultiple(minCapacity, f.expandSize)
	if err := f.file.Truncate(int64(newCap)); err != nil {
		return kverrors.Wrap(kverrors.IO, err)
	}
	f.capacity = newCap
	// Drop every cached page so none keeps the shorter pre-expansion length.
	f.buf.SetMaxPages(0)
	f.buf.SetMaxPages(f.maxPages)
	f.log.WithField("capacity", newCap).Debug("storage: expanded file")
	return nil
}

func (f *FileStorage) ensureWritable(offset, length uint64) error {
	if err := checkOpen(f.open); err != nil {
		return err
	}
	end, err := bytesutil.CheckedAdd(offset, length)
	if err != nil {
		return err
	}
	if end > f.capacity {
		if err := f.Expand(end); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileStorage) ensureReadable(offset, length uint64) error {
	if err := checkOpen(f.open); err != nil {
		return err
	}
	if length == 0 {
		return kverrors.Assert(kverrors.CondReadNothing)
	}
	end, err := bytesutil.CheckedAdd(offset, length)
	if err != nil {
		return err
	}
	if end > f.capacity {
		return kverrors.Assert(kverrors.CondReadPastEnd)
	}
	return nil
}

func (f *FileStorage) WBytes(offset uint64, b []byte) error {
	if len(b) == 0 {
		return kverrors.Assert(kverrors.CondWriteNothing)
	}
	if err := f.ensureWritable(offset, uint64(len(b))); err != nil {
		return err
	}
	return f.buf.Update(offset, b)
}

func (f *FileStorage) RBytes(offset, length uint64) ([]byte, error) {
	if err := f.ensureReadable(offset, length); err != nil {
		return nil, err
	}
	return f.buf.Read(offset, length)
}

func (f *FileStorage) Fill(start, end *uint64, b byte) error {
	if err := checkOpen(f.open); err != nil {
		return err
	}
	s, e := f.fillRange(start, end)
	if s == e {
		return kverrors.Assert(kverrors.CondWriteNothing)
	}
	if s > e {
		return kverrors.Assert(kverrors.CondWritePastEnd)
	}
	if e > f.capacity {
		if err := f.Expand(e); err != nil {
			return err
		}
	}
	chunk := make([]byte, e-s)
	for i := range chunk {
		chunk[i] = b
	}
	return f.buf.Update(s, chunk)
}

func (f *FileStorage) IsFilled(start, end *uint64, b byte) (bool, error) {
	if err := checkOpen(f.open); err != nil {
		return false, err
	}
	s, e := f.fillRange(start, end)
	if e > f.capacity {
		return false, kverrors.Assert(kverrors.CondReadPastEnd)
	}
	got, err := f.buf.Read(s, e-s)
	if err != nil {
		return false, err
	}
	for _, v := range got {
		if v != b {
			return false, nil
		}
	}
	return true, nil
}

func (f *FileStorage) fillRange(start, end *uint64) (uint64, uint64) {
	s := uint64(0)
	if start != nil {
		s = *start
	}
	e := f.capacity
	if end != nil {
		e = *end
	}
	return s, e
}
