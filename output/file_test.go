package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscript_Flush(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "runs", "mx1.txt")

	tr := NewTranscript(final)
	fmt.Fprintln(tr, "User bob found using VRFY!")
	fmt.Fprintln(tr, "User carol not found.")
	require.NoError(t, tr.Flush())

	got, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "User bob found using VRFY!\nUser carol not found.\n", string(got))

	entries, err := os.ReadDir(filepath.Dir(final))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestWriteAtomic_Overwrite(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(final, []byte("original"), 0o644))

	require.NoError(t, WriteAtomic(final, strings.NewReader("newcontent")))
	got, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "newcontent", string(got))
}

func TestWriteAtomic_FailPreservesOriginal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	final := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(final, []byte("original"), 0o644))

	// no write permission on dir makes CreateTemp fail
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	require.Error(t, WriteAtomic(final, strings.NewReader("should-not-write")))

	got, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}
