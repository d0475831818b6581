package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelhq/llm-warden/logger"
)

type captureSink struct {
	entries []*Entry
}

func (s *captureSink) Write(_ context.Context, entry *Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func newRecorder(t *testing.T, cfg Config, sink Sink) *Recorder {
	t.Helper()
	if cfg.Service == "" {
		cfg.Service = "warden-test"
	}
	r, err := New(cfg, sink, logger.Nop())
	require.NoError(t, err)
	return r
}

func TestRecorder_Redaction(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	r := newRecorder(t, Config{}, sink)

	entry := r.Log(ctx, Record{
		Action:  ActionRequestReceived,
		Message: "call out",
		Metadata: map[string]interface{}{
			"apiKey": "sk-x",
			"model":  "gpt-4o",
			"nested": map[string]interface{}{
				"Password": "hunter2",
				"depth":    3,
			},
			"headers": []interface{}{
				map[string]interface{}{"Authorization": "Bearer abc"},
			},
		},
	})
	require.NotNil(t, entry)

	assert.Equal(t, RedactedValue, entry.Metadata["apiKey"])
	assert.Equal(t, "gpt-4o", entry.Metadata["model"])

	nested := entry.Metadata["nested"].(map[string]interface{})
	assert.Equal(t, RedactedValue, nested["Password"], "denylist matching is case insensitive")
	assert.Equal(t, 3, nested["depth"])

	headers := entry.Metadata["headers"].([]interface{})
	inner := headers[0].(map[string]interface{})
	assert.Equal(t, RedactedValue, inner["Authorization"])
}

func TestRecorder_RedactionDoesNotMutateInput(t *testing.T) {
	sink := &captureSink{}
	r := newRecorder(t, Config{}, sink)

	metadata := map[string]interface{}{"token": "secret"}
	r.Log(context.Background(), Record{Action: ActionRequestReceived, Metadata: metadata})
	assert.Equal(t, "secret", metadata["token"], "caller's map must stay intact")
}

func TestRecorder_CustomDenylist(t *testing.T) {
	sink := &captureSink{}
	r := newRecorder(t, Config{Denylist: []string{"internal_code"}}, sink)

	entry := r.Log(context.Background(), Record{
		Action: ActionRequestReceived,
		Metadata: map[string]interface{}{
			"internal_code": "xyz",
			"apiKey":        "sk-x", // custom list replaces the default one
		},
	})
	assert.Equal(t, RedactedValue, entry.Metadata["internal_code"])
	assert.Equal(t, "sk-x", entry.Metadata["apiKey"])
}

func TestRecorder_UniqueIDs(t *testing.T) {
	ctx := context.Background()
	r := newRecorder(t, Config{}, &captureSink{})

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		entry := r.Log(ctx, Record{Action: ActionRequestReceived, Message: "same input"})
		require.NotNil(t, entry)
		assert.False(t, seen[entry.ID], "duplicate id %s", entry.ID)
		seen[entry.ID] = true
	}
}

func TestRecorder_IntegrityHash(t *testing.T) {
	ctx := context.Background()
	r := newRecorder(t, Config{IntegrityHash: true}, &captureSink{})

	entry := r.Log(ctx, Record{Action: ActionGovernanceDecision, Message: "denied"})
	require.NotNil(t, entry)
	require.NotEmpty(t, entry.IntegrityHash)
	assert.True(t, VerifyIntegrity(entry))

	t.Run("message tamper detected", func(t *testing.T) {
		tampered := *entry
		tampered.Message = "allowed"
		assert.False(t, VerifyIntegrity(&tampered))
	})

	t.Run("timestamp is part of the hashed payload", func(t *testing.T) {
		tampered := *entry
		tampered.Timestamp = tampered.Timestamp.Add(1)
		assert.False(t, VerifyIntegrity(&tampered))
	})

	t.Run("hashing disabled leaves field empty", func(t *testing.T) {
		plain := newRecorder(t, Config{}, &captureSink{})
		entry := plain.Log(ctx, Record{Action: ActionRequestReceived})
		assert.Empty(t, entry.IntegrityHash)
		assert.False(t, VerifyIntegrity(entry))
	})
}

func TestRecorder_MinLevel(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	r := newRecorder(t, Config{MinLevel: LevelWarn}, sink)

	assert.Nil(t, r.Log(ctx, Record{Level: LevelDebug, Action: ActionRequestReceived}))
	assert.Nil(t, r.Log(ctx, Record{Level: LevelInfo, Action: ActionRequestReceived}))
	assert.Empty(t, sink.entries, "filtered entries must not reach the sink")

	entry := r.Log(ctx, Record{Level: LevelError, Action: ActionError})
	require.NotNil(t, entry)
	assert.Len(t, sink.entries, 1)
}

func TestRecorder_Child(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	parent := newRecorder(t, Config{}, sink)
	child := parent.Child(Context{RequestID: "req-1", SessionID: "sess-1"})

	childEntry := child.Log(ctx, Record{Action: ActionRequestReceived})
	assert.Equal(t, "req-1", childEntry.RequestID)
	assert.Equal(t, "sess-1", childEntry.SessionID)

	parentEntry := parent.Log(ctx, Record{Action: ActionRequestReceived})
	assert.Empty(t, parentEntry.RequestID, "parent must not inherit child bindings")

	t.Run("per-record context overrides the binding", func(t *testing.T) {
		entry := child.Log(ctx, Record{Action: ActionRequestReceived, Context: Context{RequestID: "req-2"}})
		assert.Equal(t, "req-2", entry.RequestID)
		assert.Equal(t, "sess-1", entry.SessionID)
	})
}

func TestRecorder_SinkFailureFallback(t *testing.T) {
	ctx := context.Background()
	failing := SinkFunc(func(context.Context, *Entry) error {
		return errors.New("sink down")
	})
	r := newRecorder(t, Config{}, failing)

	entry := r.Log(ctx, Record{Action: ActionGovernanceDecision, Message: "denied"})
	require.NotNil(t, entry, "a sink failure must not abort the governed call")
}

func TestRecorder_GovernanceLevels(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	r := newRecorder(t, Config{}, sink)

	allowed := r.LogGovernance(ctx, "budget", true, nil)
	assert.Equal(t, LevelInfo, allowed.Level)
	assert.Equal(t, true, allowed.Metadata["allowed"])
	assert.Equal(t, "budget", allowed.Metadata["component"])

	denied := r.LogGovernance(ctx, "budget", false, map[string]interface{}{"reason": "ceiling"})
	assert.Equal(t, LevelWarn, denied.Level)
	assert.Equal(t, false, denied.Metadata["allowed"])
	assert.Equal(t, "ceiling", denied.Metadata["reason"])

	t.Run("caller metadata is not annotated in place", func(t *testing.T) {
		metadata := map[string]interface{}{"reason": "ceiling"}
		r.LogGovernance(ctx, "budget", false, metadata)
		assert.Equal(t, map[string]interface{}{"reason": "ceiling"}, metadata)
	})
}

func TestRecorder_ErrorEntries(t *testing.T) {
	r := newRecorder(t, Config{}, &captureSink{})
	entry := r.LogError(context.Background(), errors.New("provider timeout"), nil)
	require.NotNil(t, entry)
	assert.Equal(t, ActionError, entry.Action)
	assert.Equal(t, LevelError, entry.Level)
	assert.Equal(t, "provider timeout", entry.Error)
}

func TestRecorder_ConfigValidation(t *testing.T) {
	log := logger.Nop()

	_, err := New(Config{}, nil, log)
	assert.Error(t, err, "empty service name must be rejected")

	_, err = New(Config{Service: "s", MinLevel: "loud"}, nil, log)
	assert.Error(t, err)
}

func TestMaskDatabaseURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"user and password", "postgres://warden:pw@db:5432/audit?sslmode=disable", "postgres://warden:***@db:5432/audit?sslmode=disable"},
		{"password only", "postgres://:pw@db:5432/audit", "postgres://:***@db:5432/audit"},
		{"no credentials", "postgres://db:5432/audit", "postgres://db:5432/audit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, maskDatabaseURL(tc.url))
		})
	}
}

func TestFileSink(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	sink, err := NewFileSink(path)
	require.NoError(t, err)

	r := newRecorder(t, Config{IntegrityHash: true}, sink)
	r.Log(ctx, Record{Action: ActionRequestReceived, Message: "first"})
	r.Log(ctx, Record{Action: ActionResponseReturned, Message: "second"})
	require.NoError(t, sink.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, ActionResponseReturned, entries[1].Action)
	assert.True(t, VerifyIntegrity(&entries[1]), "round-tripped entries still verify")
}

func TestMultiSink(t *testing.T) {
	ctx := context.Background()
	good := &captureSink{}
	bad := SinkFunc(func(context.Context, *Entry) error { return errors.New("down") })

	err := MultiSink{good, bad}.Write(ctx, &Entry{ID: "e1"})
	assert.Error(t, err)
	assert.Len(t, good.entries, 1, "one failing sink must not starve the others")
}
