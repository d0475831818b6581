package audit

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/keelhq/llm-warden/logger"
)

// archiveRow is the columnar projection of an Entry. Metadata is carried as
// a JSON string; parquet readers that need it can parse it back.
type archiveRow struct {
	ID            string `parquet:"id"`
	TimestampNano int64  `parquet:"timestamp_unix_nano"`
	Service       string `parquet:"service"`
	Environment   string `parquet:"environment"`
	UserID        string `parquet:"user_id"`
	SessionID     string `parquet:"session_id"`
	RequestID     string `parquet:"request_id"`
	TraceID       string `parquet:"trace_id"`
	Action        string `parquet:"action"`
	Level         string `parquet:"level"`
	Message       string `parquet:"message"`
	MetadataJSON  string `parquet:"metadata_json"`
	Error         string `parquet:"error"`
	IntegrityHash string `parquet:"integrity_hash"`
}

// ParquetExporter archives batches of audit entries into parquet files for
// long-term retention and offline analysis.
type ParquetExporter struct {
	logger *logger.Logger
}

func NewParquetExporter(log *logger.Logger) *ParquetExporter {
	return &ParquetExporter{logger: log.WithComponent("audit.export")}
}

// Export writes the entries to a new parquet file at path and returns the
// number of rows written.
func (x *ParquetExporter) Export(path string, entries []*Entry) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file)

	written := 0
	for _, entry := range entries {
		row := archiveRow{
			ID:            entry.ID,
			TimestampNano: entry.Timestamp.UnixNano(),
			Service:       entry.Service,
			Environment:   entry.Environment,
			UserID:        entry.UserID,
			SessionID:     entry.SessionID,
			RequestID:     entry.RequestID,
			TraceID:       entry.TraceID,
			Action:        string(entry.Action),
			Level:         string(entry.Level),
			Message:       entry.Message,
			Error:         entry.Error,
			IntegrityHash: entry.IntegrityHash,
		}
		if entry.Metadata != nil {
			metadata, err := json.Marshal(entry.Metadata)
			if err != nil {
				x.logger.Warn("skipping entry with unmarshalable metadata",
					zap.String("entry_id", entry.ID), zap.Error(err))
				continue
			}
			row.MetadataJSON = string(metadata)
		}

		if err := writer.Write(&row); err != nil {
			return written, fmt.Errorf("failed to write archive row: %w", err)
		}
		written++
	}

	if err := writer.Close(); err != nil {
		return written, fmt.Errorf("failed to finalize archive: %w", err)
	}

	x.logger.Info("audit archive written",
		zap.String("path", path),
		zap.Int("rows", written),
	)
	return written, nil
}
