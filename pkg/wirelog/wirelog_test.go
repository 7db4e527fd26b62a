package wirelog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wire.jsonl")

	rec, err := Open(path)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Session())

	rec.Record(KindSpawn, map[string]any{"cmd": []string{"python3", "server.py"}})
	rec.Record(KindRequest, map[string]any{"method": "tools/list", "id": 1})
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, KindSpawn, first["kind"])
	assert.Equal(t, rec.Session(), first["session"])
	assert.NotZero(t, first["ts"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, KindRequest, second["kind"])
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.Record(KindResponse, map[string]any{"id": 1})
		assert.Empty(t, rec.Session())
		assert.NoError(t, rec.Close())
	})
}

func TestRecordAfterCloseIsSwallowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wire.jsonl")
	rec, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	assert.NotPanics(t, func() {
		rec.Record(KindOrphan, map[string]any{"id": 9})
	})
	assert.NoError(t, rec.Close())
}
