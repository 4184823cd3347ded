// Package query implements asking questions and keeping their history.
//
// Every accepted question produces exactly one stored record, whether the
// model answered, failed, or was never configured. Only empty questions are
// rejected without a record.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/askd/internal/gateway"
	"github.com/kalambet/askd/internal/storage"
)

// HistoryLimit is the number of records returned by History.
const HistoryLimit = 50

// ConfigErrorMessage is stored and returned as the answer when no API key is configured.
const ConfigErrorMessage = "GEMINI_API_KEY is not set on the server. Set it as an environment variable."

// ErrEmptyQuestion is returned when the question is blank after trimming.
var ErrEmptyQuestion = errors.New("empty question")

// ErrNotConfigured is reported in Result.Err when no inference client is available.
var ErrNotConfigured = gateway.ErrNotConfigured

// Store is the persistence the service needs.
type Store interface {
	Append(ctx context.Context, question, answer string) (storage.QueryRecord, error)
	Recent(ctx context.Context, limit int) ([]storage.QueryRecord, error)
	Clear(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Result is the outcome of an accepted question. Answer is always set and
// always equals the stored answer. Err is non-nil when Answer describes a
// failure instead of a model response.
type Result struct {
	Record storage.QueryRecord
	Answer string
	Err    error
}

// Service asks questions and manages their history.
type Service struct {
	store    Store
	inferrer gateway.Inferrer
}

// NewService creates a Service. A nil inferrer means no API key is configured.
func NewService(store Store, inferrer gateway.Inferrer) *Service {
	return &Service{store: store, inferrer: inferrer}
}

// Configured reports whether questions are forwarded to a model.
func (s *Service) Configured() bool {
	return s.inferrer != nil
}

// Ask trims question, obtains an answer and stores the pair.
// The returned error is ErrEmptyQuestion or a storage failure; inference
// failures are reported through Result.Err.
func (s *Service) Ask(ctx context.Context, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}

	var res Result
	if s.inferrer == nil {
		res.Answer = ConfigErrorMessage
		res.Err = ErrNotConfigured
	} else if answer, err := s.inferrer.Infer(ctx, question); err != nil {
		res.Answer = FormatInferenceError(err)
		res.Err = err
		slog.Warn("inference failed", "error", err)
	} else {
		res.Answer = answer
	}

	rec, err := s.store.Append(ctx, question, res.Answer)
	if err != nil {
		return Result{}, fmt.Errorf("saving query: %w", err)
	}
	res.Record = rec
	return res, nil
}

// FormatInferenceError renders an inference failure as user-visible answer text.
func FormatInferenceError(err error) string {
	return "Error calling Gemini: " + err.Error()
}

// History returns the most recent records, newest first.
func (s *Service) History(ctx context.Context) ([]storage.QueryRecord, error) {
	records, err := s.store.Recent(ctx, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return records, nil
}

// Clear deletes all records and returns how many were removed.
func (s *Service) Clear(ctx context.Context) (int64, error) {
	n, err := s.store.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}
	return n, nil
}

// Count returns the total number of stored records.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}
