package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvcore/pkg/kverrors"
	"kvcore/pkg/storage"
	"kvcore/pkg/txstorage"
)

func newJournal(t *testing.T, capacity, expandSize uint64) *Journal {
	t.Helper()
	mem, err := storage.NewMemoryStorage(capacity, expandSize)
	require.NoError(t, err)
	j := New(txstorage.New(mem))
	require.NoError(t, j.Open())
	return j
}

// S1: journal single record.
func TestSingleRecordRoundTrip(t *testing.T) {
	j := newJournal(t, 256, 256)

	require.NoError(t, j.Write([]byte{0, 1, 2}))
	require.NoError(t, j.Commit())

	got, err := j.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, got)
	assert.Equal(t, uint64(0), j.ReadOffset())
	// Frame total is len(data)+9: 2 start + 4 length + 3 data + 1 checksum + 2 end.
	assert.Equal(t, uint64(12), j.WriteOffset())
	assert.Equal(t, uint64(12), j.TxnBoundary())
}

// S2: reopening a storage primed with exactly one committed record recovers
// record_count == 1 and is_writing == false.
func TestReopenRecoversCommittedCount(t *testing.T) {
	raw := []byte{0x02, 0x02, 0x03, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x00, 0x03, 0x03}
	mem, err := storage.NewMemoryStorage(16, 16)
	require.NoError(t, err)
	require.NoError(t, mem.Open())
	require.NoError(t, mem.WBytes(0, raw))

	j := New(txstorage.New(mem))
	require.NoError(t, j.Open())

	assert.Equal(t, uint64(1), j.RecordCount())
	assert.False(t, j.IsWriting())
}

// S3: an uncommitted trailing start marker is detected and can be completed
// with a later Commit.
func TestReopenRecoversUncommittedWrite(t *testing.T) {
	raw := []byte{
		0x02, 0x02, 0x03, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x00, 0x03, 0x03, // committed record
		0x02, 0x02, 0x03, 0x00, 0x00, 0x00, // start of a second record, no end marker
	}
	mem, err := storage.NewMemoryStorage(32, 16)
	require.NoError(t, err)
	require.NoError(t, mem.Open())
	require.NoError(t, mem.WBytes(0, raw))

	j := New(txstorage.New(mem))
	require.NoError(t, j.Open())

	assert.Equal(t, uint64(1), j.RecordCount())
	assert.True(t, j.IsWriting())

	require.NoError(t, j.Commit())
	assert.Equal(t, uint64(2), j.RecordCount())
	assert.False(t, j.IsWriting())
}

// S4: reading an uncommitted record fails with read-after-txn-boundary.
func TestReadBeforeCommitFails(t *testing.T) {
	j := newJournal(t, 256, 256)
	require.NoError(t, j.Write([]byte{0, 1, 2}))

	_, err := j.Read()
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.CondReadAfterTxnBoundary))
}

// S6: each 3-byte payload frames to 12 bytes, so capacity stays 16 after the
// first commit and grows to 32 with the second.
func TestExpandOnCommit(t *testing.T) {
	j := newJournal(t, 16, 16)

	require.NoError(t, j.Write([]byte{1, 2, 3}))
	require.NoError(t, j.Commit())

	mem := j.tx
	assert.Equal(t, uint64(16), mem.GetCapacity())

	require.NoError(t, j.Write([]byte{4, 5, 6}))
	require.NoError(t, j.Commit())
	assert.Equal(t, uint64(32), mem.GetCapacity())
}

func TestIterationVisitsRecordsInOrderOnce(t *testing.T) {
	j := newJournal(t, 64, 64)
	records := [][]byte{{1}, {2, 2}, {3, 3, 3}}
	for _, r := range records {
		require.NoError(t, j.Write(r))
		require.NoError(t, j.Commit())
	}

	require.NoError(t, j.JumpTo(0))
	var got [][]byte
	for {
		data, err := j.Next()
		if err != nil {
			break
		}
		got = append(got, data)
	}
	assert.Equal(t, records, got)
	assert.Equal(t, uint64(3), j.RecordCount())
}

func TestDiscardLeavesBoundaryAndCountUnchanged(t *testing.T) {
	j := newJournal(t, 64, 64)
	require.NoError(t, j.Write([]byte{9, 9}))
	require.NoError(t, j.Commit())

	boundary := j.TxnBoundary()
	count := j.RecordCount()

	require.NoError(t, j.Write([]byte{1, 2, 3}))
	require.NoError(t, j.Discard())

	assert.Equal(t, boundary, j.TxnBoundary())
	assert.Equal(t, count, j.RecordCount())
	assert.False(t, j.IsWriting())

	require.NoError(t, j.JumpTo(0))
	data, err := j.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, data)
	_, err = j.Next()
	assert.Error(t, err)
}

// A bit-flip in a committed payload must be caught on reopen.
func TestBitFlipInPayloadFailsVerification(t *testing.T) {
	raw := []byte{0x02, 0x02, 0x03, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x00, 0x03, 0x03}
	raw[6] ^= 0xFF // flip a payload byte; checksum at raw[9] no longer matches

	mem, err := storage.NewMemoryStorage(16, 16)
	require.NoError(t, err)
	require.NoError(t, mem.Open())
	require.NoError(t, mem.WBytes(0, raw))

	j := New(txstorage.New(mem))
	err = j.Open()
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.CondChecksumMismatch))
}

func TestWriteRequiresNoInProgressWrite(t *testing.T) {
	j := newJournal(t, 64, 64)
	require.NoError(t, j.Write([]byte{1}))

	err := j.Write([]byte{2})
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.CondWriteInProgress))
}

func TestWriteRequiresNonEmptyPayload(t *testing.T) {
	j := newJournal(t, 64, 64)
	err := j.Write(nil)
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.CondNothingToWrite))
}

func TestJumpToSetsReadOffsetEvenOnFailure(t *testing.T) {
	j := newJournal(t, 64, 64)
	require.NoError(t, j.Write([]byte{1, 2}))
	require.NoError(t, j.Commit())

	err := j.JumpTo(3) // lands mid-record, not on a start marker
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.CondNoCommittedRecord))
	assert.Equal(t, uint64(3), j.ReadOffset())
}
