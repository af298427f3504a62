// Package sentlab wraps pretrained transformer encoders behind fit/predict
// classifier APIs, text encoding helpers, and a sentence embedding
// evaluation adapter.
package sentlab

import (
	"errors"
	"fmt"

	"github.com/sentlab/sentlab/classifiers"
	"github.com/sentlab/sentlab/encode"
	"github.com/sentlab/sentlab/options"
)

// Session holds the runtime configuration and every encoder and classifier
// created through it, so they can all be destroyed with one call.
type Session struct {
	encoders            map[string]*encode.Encoder
	tokenClassifiers    map[string]*classifiers.TokenClassifier
	sequenceClassifiers map[string]*classifiers.SequenceClassifier
	options             *options.Options
}

// NewORTSession creates a session backed by the onnxruntime shared library.
func NewORTSession(opts ...options.WithOption) (*Session, error) {
	return newSession("ORT", opts...)
}

// NewGoSession creates a session backed by the pure Go inference backend.
// It needs no shared libraries but runs slower than ORT.
func NewGoSession(opts ...options.WithOption) (*Session, error) {
	return newSession("GO", opts...)
}

func newSession(backend string, opts ...options.WithOption) (*Session, error) {
	parsedOptions := options.Defaults()
	parsedOptions.Backend = backend
	for _, option := range opts {
		if err := option(parsedOptions); err != nil {
			return nil, err
		}
	}
	return &Session{
		encoders:            map[string]*encode.Encoder{},
		tokenClassifiers:    map[string]*classifiers.TokenClassifier{},
		sequenceClassifiers: map[string]*classifiers.SequenceClassifier{},
		options:             parsedOptions,
	}, nil
}

// NewEncoder creates an encoder for the named pretrained tokenizer and
// registers it with the session.
func (s *Session) NewEncoder(model string, cacheDir string, opts ...encode.EncoderOption) (*encode.Encoder, error) {
	if _, exists := s.encoders[model]; exists {
		return nil, fmt.Errorf("encoder for %s has already been initialised", model)
	}
	encoder, err := encode.NewEncoder(model, cacheDir, opts...)
	if err != nil {
		return nil, err
	}
	s.encoders[model] = encoder
	return encoder, nil
}

// NewTokenClassifier creates a token level classifier and registers it with
// the session. The session's backend options apply unless cfg overrides
// them.
func (s *Session) NewTokenClassifier(cfg classifiers.Config) (*classifiers.TokenClassifier, error) {
	if _, exists := s.tokenClassifiers[cfg.Model]; exists {
		return nil, fmt.Errorf("token classifier for %s has already been initialised", cfg.Model)
	}
	if cfg.Options == nil {
		cfg.Options = s.options
	}
	classifier, err := classifiers.NewTokenClassifier(cfg)
	if err != nil {
		return nil, err
	}
	s.tokenClassifiers[cfg.Model] = classifier
	return classifier, nil
}

// NewSequenceClassifier creates a sequence level classifier and registers it
// with the session.
func (s *Session) NewSequenceClassifier(cfg classifiers.Config) (*classifiers.SequenceClassifier, error) {
	if _, exists := s.sequenceClassifiers[cfg.Model]; exists {
		return nil, fmt.Errorf("sequence classifier for %s has already been initialised", cfg.Model)
	}
	if cfg.Options == nil {
		cfg.Options = s.options
	}
	classifier, err := classifiers.NewSequenceClassifier(cfg)
	if err != nil {
		return nil, err
	}
	s.sequenceClassifiers[cfg.Model] = classifier
	return classifier, nil
}

// Destroy releases every encoder and classifier created through the session
// together with the backend environment. A session should be destroyed when
// no longer needed, preferably with a defer call.
func (s *Session) Destroy() error {
	var err error
	for _, encoder := range s.encoders {
		err = errors.Join(err, encoder.Destroy())
	}
	for _, classifier := range s.tokenClassifiers {
		err = errors.Join(err, classifier.Destroy())
	}
	for _, classifier := range s.sequenceClassifiers {
		err = errors.Join(err, classifier.Destroy())
	}
	s.encoders = nil
	s.tokenClassifiers = nil
	s.sequenceClassifiers = nil

	if s.options != nil {
		err = errors.Join(err, s.options.Destroy())
		s.options = nil
	}
	return err
}
