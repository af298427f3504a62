package loader

import (
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRows(n, seqLen int) ([][]int64, [][]int64) {
	ids := make([][]int64, n)
	mask := make([][]int64, n)
	for i := range ids {
		row := make([]int64, seqLen)
		maskRow := make([]int64, seqLen)
		for j := range row {
			row[j] = int64(i)
			maskRow[j] = 1
		}
		ids[i] = row
		mask[i] = maskRow
	}
	return ids, mask
}

// collectFirstColumn drains one full pass and returns the first id of every
// row served, in serving order.
func collectFirstColumn(t *testing.T, d *DataLoader) []int64 {
	t.Helper()
	var rows []int64
	for {
		batch, err := d.Next()
		if err == io.EOF {
			return rows
		}
		require.NoError(t, err)
		data := batch.InputIDs.Data().([]int64)
		seqLen := len(data) / batch.Size
		for b := 0; b < batch.Size; b++ {
			rows = append(rows, data[b*seqLen])
		}
	}
}

func TestInvalidSampleMethod(t *testing.T) {
	ids, mask := testRows(4, 2)
	_, err := New(Config{
		InputIDs:     ids,
		InputMask:    mask,
		SampleMethod: "bogus",
		BatchSize:    2,
	})
	require.ErrorIs(t, err, ErrInvalidSampleMethod)
	assert.ErrorContains(t, err, `"bogus"`)
	assert.ErrorContains(t, err, "random, sequential, and distributed")
}

func TestSequentialPreservesOrder(t *testing.T) {
	ids, mask := testRows(7, 3)
	d, err := New(Config{
		InputIDs:     ids,
		InputMask:    mask,
		SampleMethod: SampleSequential,
		BatchSize:    3,
	})
	require.NoError(t, err)

	want := []int64{0, 1, 2, 3, 4, 5, 6}
	assert.Equal(t, want, collectFirstColumn(t, d))
	d.Reset()
	assert.Equal(t, want, collectFirstColumn(t, d))
}

func TestRandomSameMultiset(t *testing.T) {
	ids, mask := testRows(16, 2)
	d, err := New(Config{
		InputIDs:     ids,
		InputMask:    mask,
		SampleMethod: SampleRandom,
		BatchSize:    4,
		Seed:         42,
	})
	require.NoError(t, err)

	first := collectFirstColumn(t, d)
	d.Reset()
	second := collectFirstColumn(t, d)

	sortedFirst := append([]int64(nil), first...)
	sortedSecond := append([]int64(nil), second...)
	sort.Slice(sortedFirst, func(i, j int) bool { return sortedFirst[i] < sortedFirst[j] })
	sort.Slice(sortedSecond, func(i, j int) bool { return sortedSecond[i] < sortedSecond[j] })
	assert.Equal(t, sortedFirst, sortedSecond)
	assert.Len(t, first, 16)
}

func TestFinalBatchMayBeShort(t *testing.T) {
	ids, mask := testRows(5, 2)
	d, err := New(Config{
		InputIDs:     ids,
		InputMask:    mask,
		SampleMethod: SampleSequential,
		BatchSize:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, d.NumBatches())

	sizes := []int{}
	for {
		batch, err := d.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, batch.Size)
		assert.Equal(t, []int{batch.Size, 2}, []int(batch.InputIDs.Shape()))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestDistributedPartitionsByRank(t *testing.T) {
	ids, mask := testRows(10, 2)

	var served []int64
	for rank := 0; rank < 3; rank++ {
		d, err := New(Config{
			InputIDs:     ids,
			InputMask:    mask,
			SampleMethod: SampleDistributed,
			BatchSize:    4,
			Rank:         rank,
			WorldSize:    3,
		})
		require.NoError(t, err)
		rows := collectFirstColumn(t, d)
		for _, r := range rows {
			assert.Equal(t, int64(rank), r%3)
		}
		served = append(served, rows...)
	}
	// together the ranks cover every row exactly once
	sort.Slice(served, func(i, j int) bool { return served[i] < served[j] })
	want := make([]int64, 10)
	for i := range want {
		want[i] = int64(i)
	}
	assert.Equal(t, want, served)
}

func TestSequenceLabels(t *testing.T) {
	ids, mask := testRows(4, 2)
	d, err := New(Config{
		InputIDs:       ids,
		InputMask:      mask,
		SequenceLabels: []int64{1, 0, 1, 0},
		SampleMethod:   SampleSequential,
		BatchSize:      4,
	})
	require.NoError(t, err)

	batch, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, batch.Labels)
	assert.Equal(t, []int{4}, []int(batch.Labels.Shape()))
	assert.Equal(t, []int64{1, 0, 1, 0}, batch.Labels.Data().([]int64))
}

func TestTokenLabels(t *testing.T) {
	ids, mask := testRows(2, 3)
	d, err := New(Config{
		InputIDs:     ids,
		InputMask:    mask,
		TokenLabels:  [][]int64{{1, 2, 0}, {3, 0, 0}},
		SampleMethod: SampleSequential,
		BatchSize:    2,
	})
	require.NoError(t, err)

	batch, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, batch.Labels)
	assert.Equal(t, []int{2, 3}, []int(batch.Labels.Shape()))
	assert.Equal(t, []int64{1, 2, 0, 3, 0, 0}, batch.Labels.Data().([]int64))
}

func TestBothLabelKindsRejected(t *testing.T) {
	ids, mask := testRows(2, 2)
	_, err := New(Config{
		InputIDs:       ids,
		InputMask:      mask,
		TokenLabels:    [][]int64{{1, 2}, {3, 4}},
		SequenceLabels: []int64{1, 0},
		SampleMethod:   SampleSequential,
		BatchSize:      2,
	})
	assert.Error(t, err)
}

func TestDistributedRankValidated(t *testing.T) {
	ids, mask := testRows(6, 2)

	_, err := New(Config{
		InputIDs:     ids,
		InputMask:    mask,
		SampleMethod: SampleDistributed,
		BatchSize:    2,
		Rank:         -1,
		WorldSize:    3,
	})
	assert.ErrorContains(t, err, "rank must be in [0, 3), was -1")

	_, err = New(Config{
		InputIDs:     ids,
		InputMask:    mask,
		SampleMethod: SampleDistributed,
		BatchSize:    2,
		Rank:         3,
		WorldSize:    3,
	})
	assert.ErrorContains(t, err, "rank must be in [0, 3), was 3")
}
