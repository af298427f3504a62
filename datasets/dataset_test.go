package datasets

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.jsonl")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTokenClassificationDatasetValidation(t *testing.T) {
	_, err := NewTokenClassificationDataset("", 2, nil)
	assert.ErrorContains(t, err, "training path is required")

	_, err = NewTokenClassificationDataset("train.csv", 2, nil)
	assert.ErrorContains(t, err, "must be a .jsonl file")

	_, err = NewInMemoryTokenClassificationDataset([]TokenClassificationExample{{Text: "a"}}, 0, nil)
	assert.ErrorContains(t, err, "batch size must be positive")
}

func TestTokenClassificationDatasetFromFile(t *testing.T) {
	path := writeJSONL(t,
		`{"text":"play soccer","labels":["B-ACT","B-OBJ"]}`,
		`{"text":"watch the game","labels":["B-ACT","O","B-OBJ"]}`,
		`{"text":"play","labels":["B-ACT"]}`,
	)
	dataset, err := NewTokenClassificationDataset(path, 2, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, dataset.Close())
	})

	batch, err := dataset.YieldRaw()
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "play soccer", batch[0].Text)
	assert.Equal(t, []string{"B-ACT", "B-OBJ"}, batch[0].Labels)
	assert.Equal(t, []string{"play", "soccer"}, batch[0].Words())

	// the final short batch flushes before EOF
	batch, err = dataset.YieldRaw()
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "play", batch[0].Text)

	_, err = dataset.YieldRaw()
	assert.Equal(t, io.EOF, err)
}

func TestTokenClassificationDatasetReset(t *testing.T) {
	path := writeJSONL(t, `{"text":"play","labels":["B-ACT"]}`)
	dataset, err := NewTokenClassificationDataset(path, 1, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, dataset.Close())
	})

	batch, err := dataset.YieldRaw()
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, dataset.Reset())
	batch, err = dataset.YieldRaw()
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "play", batch[0].Text)
}

func TestTokenClassificationDatasetInMemory(t *testing.T) {
	examples := []TokenClassificationExample{
		{Text: "a", Labels: []string{"O"}},
		{Text: "b", Labels: []string{"O"}},
		{Text: "c", Labels: []string{"O"}},
	}
	dataset, err := NewInMemoryTokenClassificationDataset(examples, 2, nil)
	require.NoError(t, err)

	batch, err := dataset.YieldRaw()
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = dataset.YieldRaw()
	require.NoError(t, err)
	assert.Len(t, batch, 1)

	_, err = dataset.YieldRaw()
	assert.Equal(t, io.EOF, err)
}

func TestTokenClassificationDatasetPreprocess(t *testing.T) {
	upper := func(batch []TokenClassificationExample) ([]TokenClassificationExample, error) {
		for i := range batch {
			for j := range batch[i].Labels {
				batch[i].Labels[j] = "I-" + batch[i].Labels[j]
			}
		}
		return batch, nil
	}
	dataset, err := NewInMemoryTokenClassificationDataset(
		[]TokenClassificationExample{{Text: "play", Labels: []string{"ACT"}}}, 1, upper)
	require.NoError(t, err)

	batch, err := dataset.YieldRaw()
	require.NoError(t, err)
	assert.Equal(t, []string{"I-ACT"}, batch[0].Labels)
}

func TestTokenClassificationDatasetBadJSON(t *testing.T) {
	path := writeJSONL(t, `{"text": not json}`)
	dataset, err := NewTokenClassificationDataset(path, 1, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, dataset.Close())
	})

	_, err = dataset.YieldRaw()
	assert.ErrorContains(t, err, "failed to parse JSON line")
}
