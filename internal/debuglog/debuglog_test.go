package debuglog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_WriteTurn(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	w.WriteTurn(context.Background(), "graph", []byte("hello world"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.True(t, strings.Contains(entries[0].Name(), "graph"))
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".md"))

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello world")
}

func TestWriter_WriteTurn_SequencesFileNames(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	w.WriteTurn(context.Background(), "graph", []byte("first"))
	w.WriteTurn(context.Background(), "substrate", []byte("second"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestWriter_WriteTurn_NoopWhenDirEmpty(t *testing.T) {
	w := New("")
	w.WriteTurn(context.Background(), "graph", []byte("hello"))
}

func TestWriter_WriteTurn_NilReceiverIsNoop(t *testing.T) {
	var w *Writer
	w.WriteTurn(context.Background(), "graph", []byte("hello"))
}
