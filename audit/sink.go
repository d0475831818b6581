package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/keelhq/llm-warden/logger"
)

// Sink receives completed entries. The sink itself is an external
// collaborator: console, file, database, or whatever callback the host
// application supplies.
type Sink interface {
	Write(ctx context.Context, entry *Entry) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, entry *Entry) error

func (f SinkFunc) Write(ctx context.Context, entry *Entry) error {
	return f(ctx, entry)
}

// ZapSink emits entries as structured JSON lines through the logger.
type ZapSink struct {
	logger *logger.Logger
}

func NewZapSink(log *logger.Logger) *ZapSink {
	return &ZapSink{logger: log}
}

func (s *ZapSink) Write(_ context.Context, entry *Entry) error {
	fields := []zap.Field{
		zap.String("entry_id", entry.ID),
		zap.String("action", string(entry.Action)),
		zap.String("service", entry.Service),
	}
	if entry.RequestID != "" {
		fields = append(fields, zap.String("request_id", entry.RequestID))
	}
	if entry.Metadata != nil {
		fields = append(fields, zap.Any("metadata", entry.Metadata))
	}
	if entry.Error != "" {
		fields = append(fields, zap.String("error", entry.Error))
	}
	if entry.IntegrityHash != "" {
		fields = append(fields, zap.String("integrity_hash", entry.IntegrityHash))
	}

	switch entry.Level {
	case LevelDebug:
		s.logger.Debug(entry.Message, fields...)
	case LevelWarn:
		s.logger.Warn(entry.Message, fields...)
	case LevelError:
		s.logger.Error(entry.Message, fields...)
	default:
		s.logger.Info(entry.Message, fields...)
	}
	return nil
}

// FileSink appends entries as JSON lines to a local file.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileSink{file: file}, nil
}

func (s *FileSink) Write(_ context.Context, entry *Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// MultiSink fans an entry out to every sink, collecting all failures.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, entry *Entry) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Write(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
