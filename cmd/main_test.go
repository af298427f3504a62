package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInputsBatches(t *testing.T) {
	batchSize = 2
	source := strings.NewReader(
		`{"text":"play soccer"}` + "\n" +
			`{"text":"watch the game"}` + "\n" +
			`{"text":"play"}` + "\n")
	inputChannel := make(chan []input, 10)

	require.NoError(t, readInputs(source, inputChannel))
	close(inputChannel)

	var batches [][]input
	for batch := range inputChannel {
		batches = append(batches, batch)
	}
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
	assert.Equal(t, "play soccer", batches[0][0].Text)
	assert.Equal(t, "play", batches[1][0].Text)
}

func TestReadInputsRejectsBadJSON(t *testing.T) {
	batchSize = 2
	source := strings.NewReader("not json\n")
	inputChannel := make(chan []input, 1)

	assert.Error(t, readInputs(source, inputChannel))
}

func TestTokenLabelMapFallback(t *testing.T) {
	fallback := tokenLabelMap(nil, 3)
	assert.Equal(t, map[string]int{"LABEL_0": 0, "LABEL_1": 1, "LABEL_2": 2}, fallback)

	configured := map[string]int{"O": 0, "B-ACT": 1}
	assert.Equal(t, configured, tokenLabelMap(configured, 2))
}
