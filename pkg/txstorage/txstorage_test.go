package txstorage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvcore/pkg/kverrors"
	"kvcore/pkg/storage"
)

func newOpenStorage(t *testing.T) (*Storage, storage.Storage) {
	t.Helper()
	inner, err := storage.NewMemoryStorage(32, 16)
	require.NoError(t, err)
	require.NoError(t, inner.Open())
	return New(inner), inner
}

func TestWriteBeforeBoundaryFails(t *testing.T) {
	tx, _ := newOpenStorage(t)
	require.NoError(t, tx.SetTxnBoundary(16))

	err := tx.WU32(8, 1)
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.CondWriteBeforeTxnBoundary))

	require.NoError(t, tx.WU32(16, 1))
}

func TestReadAfterBoundaryFails(t *testing.T) {
	tx, inner := newOpenStorage(t)
	require.NoError(t, inner.WU32(24, 7))
	require.NoError(t, tx.SetTxnBoundary(16))

	_, err := tx.RU32(24)
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.CondReadAfterTxnBoundary))

	v, err := tx.RU32(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)
}

func TestSetTxnBoundaryPastEndFails(t *testing.T) {
	tx, _ := newOpenStorage(t)
	err := tx.SetTxnBoundary(1000)
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.CondSetTxnBoundaryPastEnd))
}

func TestSetTxnBoundaryIsNotMonotonic(t *testing.T) {
	tx, _ := newOpenStorage(t)
	require.NoError(t, tx.SetTxnBoundary(16))
	require.NoError(t, tx.SetTxnBoundary(0))
	assert.Equal(t, uint64(0), tx.GetTxnBoundary())
}

func TestCheckOnReadCanBeDisabled(t *testing.T) {
	tx, inner := newOpenStorage(t)
	require.NoError(t, inner.WU32(24, 7))
	require.NoError(t, tx.SetTxnBoundary(16))

	tx.SetCheckOnRead(false)
	v, err := tx.RU32(24)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)

	tx.SetCheckOnRead(true)
	_, err = tx.RU32(24)
	require.Error(t, err)
}

func TestFillChecksBothEndpoints(t *testing.T) {
	tx, _ := newOpenStorage(t)
	require.NoError(t, tx.SetTxnBoundary(16))

	start, end := uint64(8), uint64(20)
	err := tx.Fill(&start, &end, 0xFF)
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.CondWriteBeforeTxnBoundary))

	start = 16
	require.NoError(t, tx.Fill(&start, &end, 0xFF))
}

func TestTypedAccessorsRouteThroughBoundaryChecks(t *testing.T) {
	tx, _ := newOpenStorage(t)
	require.NoError(t, tx.SetTxnBoundary(16))

	require.NoError(t, tx.WString(16, "hi"))
	// Move the boundary past the two bytes just written so they can be read.
	require.NoError(t, tx.SetTxnBoundary(18))
	s, err := tx.RString(16, 2)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)

	err = tx.WString(0, "no")
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.CondWriteBeforeTxnBoundary))
}

func TestDelegatesCapacityAndLifecycleToInner(t *testing.T) {
	tx, inner := newOpenStorage(t)
	assert.Equal(t, inner.GetCapacity(), tx.GetCapacity())
	assert.True(t, tx.IsOpen())

	require.NoError(t, tx.Close())
	assert.False(t, inner.IsOpen())
}
