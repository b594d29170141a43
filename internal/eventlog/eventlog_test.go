package eventlog

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gembridge/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestWriteCallAndTransition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.ndjson")

	log, err := NewEventLog(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, log.WriteCall("gemini_start_session", "s1", "dir=/work"))
	require.NoError(t, log.WriteTaskTransition("t-1", "s1", protocol.TaskStatusRunning, "submitted"))
	require.NoError(t, log.WriteTaskTransition("t-1", "s1", protocol.TaskStatusCompleted, "completed"))
	require.NoError(t, log.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 3)

	assert.Equal(t, EntryKindCall, entries[0].Kind)
	assert.Equal(t, "gemini_start_session", entries[0].Tool)
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].At.IsZero())

	assert.Equal(t, EntryKindTask, entries[1].Kind)
	assert.Equal(t, "t-1", entries[1].TaskID)
	assert.Equal(t, string(protocol.TaskStatusRunning), entries[1].Status)

	assert.Equal(t, string(protocol.TaskStatusCompleted), entries[2].Status)

	// Every entry gets a distinct id.
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
}

func TestAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.ndjson")

	log, err := NewEventLog(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, log.WriteCall("gemini_ask", "", ""))
	require.NoError(t, log.Close())

	log, err = NewEventLog(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, log.WriteCall("gemini_close_session", "s1", ""))
	require.NoError(t, log.Close())

	entries := readEntries(t, path)
	assert.Len(t, entries, 2)
}

func TestCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "journal.ndjson")

	log, err := NewEventLog(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, log.WriteCall("gemini_list_sessions", "", ""))
	require.NoError(t, log.Close())

	assert.Len(t, readEntries(t, path), 1)
}
