package shaderwatch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orb.vert", "#version 410 core\nvoid main() {}\n")
	writeFile(t, dir, "orb.frag", "#version 410 core\nvoid main() {}\n")

	src, err := Load(dir, "orb")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(src.Vertex, "\x00"))
	assert.True(t, strings.HasSuffix(src.Fragment, "\x00"))
	assert.Equal(t, 1, strings.Count(src.Vertex, "\x00"))
}

func TestLoadMissingStage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orb.vert", "void main() {}")

	_, err := Load(dir, "orb")
	assert.Error(t, err)

	_, err = Load(dir, "stars")
	assert.Error(t, err)
}

func TestProgramName(t *testing.T) {
	tests := map[string]string{
		"/tmp/x/orb.vert":   "orb",
		"stars.frag":        "stars",
		"orb.glsl":          "",
		"notes.txt":         "",
		"/a/b/.orb.vert.sw": "",
	}
	for in, want := range tests {
		assert.Equal(t, want, programName(in), in)
	}
}

func TestNewRejectsMissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(file, nil)
	assert.Error(t, err)
}

func TestWatcherReportsChangedPrograms(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orb.vert", "a")

	w, err := New(dir, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, dir, w.Dir())
	assert.Empty(t, w.Pending())

	writeFile(t, dir, "orb.vert", "b")
	writeFile(t, dir, "stars.frag", "c")
	writeFile(t, dir, "README.md", "ignored")

	select {
	case <-w.Changed():
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}

	deadline := time.Now().Add(2 * time.Second)
	seen := map[string]bool{}
	for time.Now().Before(deadline) && !(seen["orb"] && seen["stars"]) {
		for _, name := range w.Pending() {
			seen[name] = true
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.True(t, seen["orb"])
	assert.True(t, seen["stars"])
	assert.False(t, seen["README"])
	assert.Empty(t, w.Pending())
}

func TestCloseTwice(t *testing.T) {
	w, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
