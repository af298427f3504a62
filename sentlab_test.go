package sentlab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentlab/sentlab/classifiers"
	"github.com/sentlab/sentlab/options"
)

const testTokenizerPath = "./encode/testData/dummy-vocab"

func TestSessionEncoders(t *testing.T) {
	session, err := NewGoSession()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, session.Destroy())
	})

	encoder, err := session.NewEncoder(testTokenizerPath, "")
	require.NoError(t, err)
	require.NotNil(t, encoder)

	tokens, err := encoder.Tokenize([]string{"play soccer"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"play", "soccer"}}, tokens)

	// a second encoder for the same model is rejected
	_, err = session.NewEncoder(testTokenizerPath, "")
	assert.ErrorContains(t, err, "already been initialised")
}

func TestSessionClassifierValidation(t *testing.T) {
	session, err := NewGoSession()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, session.Destroy())
	})

	_, err = session.NewTokenClassifier(classifiers.Config{Model: "some-model", NumLabels: 1})
	require.ErrorIs(t, err, classifiers.ErrTooFewLabels)

	_, err = session.NewSequenceClassifier(classifiers.Config{Model: "some-model", NumLabels: 1})
	require.ErrorIs(t, err, classifiers.ErrTooFewLabels)
}

func TestSessionOptionErrors(t *testing.T) {
	_, err := NewGoSession(options.WithOnnxLibraryPath("/no/such/dir"))
	assert.Error(t, err)

	_, err = NewORTSession(options.WithReplicas(0))
	assert.Error(t, err)
}

func TestDownloadOptionsDefaults(t *testing.T) {
	opts := NewDownloadOptions()
	assert.Equal(t, "main", opts.Branch)
	assert.Equal(t, 5, opts.MaxRetries)
	assert.Equal(t, 5, opts.RetryInterval)
	assert.Equal(t, 5, opts.ConcurrentConnections)
}
