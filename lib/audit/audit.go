// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status classifies an audit event.
type Status string

const (
	// Info marks an informational event (a request was noticed, a
	// mode was selected).
	Info Status = "INFO"

	// Success marks a phase that started or completed normally.
	Success Status = "SUCCESS"

	// Failure marks a phase that failed.
	Failure Status = "FAILURE"
)

// Event is one audit record. Summary is a short title ("Deployer
// Started"); Short and Long are one-line and extended descriptions;
// Detail carries bulky payloads such as the difference report or an
// error chain.
type Event struct {
	Time    time.Time `json:"time"`
	RunID   string    `json:"run_id,omitempty"`
	Status  Status    `json:"status"`
	Summary string    `json:"summary"`
	Short   string    `json:"short,omitempty"`
	Long    string    `json:"long,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Sink consumes audit events.
type Sink interface {
	Record(event Event) error
}

// BestEffort records event on sink and discards any error, logging it
// at debug level. Use it wherever an audit failure must not replace
// the error being reported.
func BestEffort(sink Sink, event Event, logger *slog.Logger) {
	if sink == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil && logger != nil {
			logger.Debug("audit sink panicked; event dropped",
				"summary", event.Summary, "panic", fmt.Sprint(recovered))
		}
	}()
	if err := sink.Record(event); err != nil && logger != nil {
		logger.Debug("audit event dropped", "summary", event.Summary, "error", err)
	}
}

// LogSink writes events to a slog.Logger. FAILURE events log at
// error level, everything else at info.
type LogSink struct {
	Logger *slog.Logger
}

// Record implements Sink.
func (s LogSink) Record(event Event) error {
	level := slog.LevelInfo
	if event.Status == Failure {
		level = slog.LevelError
	}
	attributes := []any{"status", string(event.Status)}
	if event.RunID != "" {
		attributes = append(attributes, "run_id", event.RunID)
	}
	if event.Short != "" {
		attributes = append(attributes, "short", event.Short)
	}
	if event.Long != "" {
		attributes = append(attributes, "long", event.Long)
	}
	if event.Detail != "" {
		attributes = append(attributes, "detail", event.Detail)
	}
	s.Logger.Log(context.Background(), level, event.Summary, attributes...)
	return nil
}

// FileSink appends events to a file as JSON lines. Safe for
// concurrent use.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFileSink opens (creating if needed) the JSON-lines audit file
// at path in append mode.
func OpenFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &FileSink{file: file}, nil
}

// Record implements Sink.
func (s *FileSink) Record(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("audit file sink is closed")
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// Close closes the underlying file. Idempotent.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record implements Sink.
func (r *Recorder) Record(event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Summaries returns the Summary of every recorded event in order.
func (r *Recorder) Summaries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	summaries := make([]string, len(r.events))
	for i, event := range r.events {
		summaries[i] = event.Summary
	}
	return summaries
}

// Multi fans events out to every sink. All sinks are attempted; the
// errors are joined.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
