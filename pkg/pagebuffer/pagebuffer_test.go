package pagebuffer

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T) afero.File {
	t.Helper()
	fs := afero.NewMemMapFs()
	f, err := fs.Create("pages.bin")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestReadWriteThrough(t *testing.T) {
	f := newTestFile(t)
	buf := New(f, 16, 4, nil)

	require.NoError(t, buf.Update(0, []byte("hello world!!!!!")))
	got, err := buf.Read(0, 12)
	require.NoError(t, err)
	require.Equal(t, "hello world!", string(got))
}

func TestReadSpansPagesAndTruncatesAtEOF(t *testing.T) {
	f := newTestFile(t)
	buf := New(f, 8, 4, nil)

	require.NoError(t, buf.Update(0, []byte("0123456789")))
	got, err := buf.Read(0, 100)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(got))
}

func TestUpdateOnlyMutatesResidentPages(t *testing.T) {
	f := newTestFile(t)
	buf := New(f, 8, 4, nil)
	require.NoError(t, buf.Update(0, []byte("AAAAAAAA")))

	// Not read yet, so page 1 is not resident; writing to it must still
	// land in the file (write-through), even though no cache entry exists.
	require.NoError(t, buf.Update(8, []byte("BBBBBBBB")))
	require.NotContains(t, buf.pages, uint64(1))

	got, err := buf.Read(0, 16)
	require.NoError(t, err)
	require.Equal(t, "AAAAAAAABBBBBBBB", string(got))
}

func TestSetMaxPagesZeroDisablesCaching(t *testing.T) {
	f := newTestFile(t)
	buf := New(f, 8, 4, nil)
	require.NoError(t, buf.Update(0, []byte("AAAAAAAA")))
	_, err := buf.Read(0, 8)
	require.NoError(t, err)
	require.Len(t, buf.pages, 1)

	buf.SetMaxPages(0)
	require.Empty(t, buf.pages)

	_, err = buf.Read(0, 8)
	require.NoError(t, err)
	require.Empty(t, buf.pages, "caching disabled: no insertion on read")
}

func TestEvictionIsFIFO(t *testing.T) {
	f := newTestFile(t)
	buf := New(f, 4, 2, nil)
	require.NoError(t, buf.Update(0, []byte("AAAABBBBCCCCDDDD")))

	_, err := buf.Read(0, 4) // page 0 resident
	require.NoError(t, err)
	_, err = buf.Read(4, 4) // page 1 resident, page 0 now oldest
	require.NoError(t, err)
	_, err = buf.Read(8, 4) // page 2 resident, evicts page 0
	require.NoError(t, err)

	require.NotContains(t, buf.pages, uint64(0))
	require.Contains(t, buf.pages, uint64(1))
	require.Contains(t, buf.pages, uint64(2))
}

func TestTruncateDropsAndShrinksPages(t *testing.T) {
	f := newTestFile(t)
	buf := New(f, 4, 8, nil)
	require.NoError(t, buf.Update(0, []byte("AAAABBBBCCCC")))
	_, err := buf.Read(0, 12)
	require.NoError(t, err)

	require.NoError(t, buf.Truncate(6))
	require.NotContains(t, buf.pages, uint64(2))
	require.Equal(t, []byte("BB"), buf.pages[1])
}
