package audit

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelhq/llm-warden/logger"
)

func TestParquetExporter(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	r := newRecorder(t, Config{IntegrityHash: true}, sink)

	r.Log(ctx, Record{Action: ActionRequestReceived, Message: "first",
		Metadata: map[string]interface{}{"model": "gpt-4o"}})
	r.Log(ctx, Record{Action: ActionGovernanceDecision, Level: LevelWarn, Message: "denied"})
	require.Len(t, sink.entries, 2)

	path := filepath.Join(t.TempDir(), "audit.parquet")
	exporter := NewParquetExporter(logger.Nop())

	written, err := exporter.Export(path, sink.entries)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var rows []archiveRow
	for {
		var row archiveRow
		if err := reader.Read(&row); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
		rows = append(rows, row)
	}

	require.Len(t, rows, 2)
	assert.Equal(t, sink.entries[0].ID, rows[0].ID)
	assert.Equal(t, "first", rows[0].Message)
	assert.Contains(t, rows[0].MetadataJSON, "gpt-4o")
	assert.Equal(t, string(LevelWarn), rows[1].Level)
	assert.NotEmpty(t, rows[1].IntegrityHash)
	assert.WithinDuration(t,
		sink.entries[0].Timestamp,
		time.Unix(0, rows[0].TimestampNano),
		time.Millisecond)
}

func TestParquetExporter_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	written, err := NewParquetExporter(logger.Nop()).Export(path, nil)
	require.NoError(t, err)
	assert.Zero(t, written)
	_, err = os.Stat(path)
	assert.NoError(t, err, "an empty archive file is still created")
}
