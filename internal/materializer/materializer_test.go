package materializer_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/qstransfer/qs/internal/materializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeDirThenWriteFile(t *testing.T) {
	dest := t.TempDir()
	m, err := materializer.New(dest)
	require.NoError(t, err)

	require.NoError(t, m.MakeDir([]string{"root"}))
	require.NoError(t, m.MakeDir([]string{"root", "sub"}))

	f, err := m.OpenForWrite([]string{"root", "sub", "b.bin"}, 0, false)
	require.NoError(t, err)
	n, err := materializer.WriteStream(f, bytes.NewReader(bytes.Repeat([]byte{0xFF}, 2048)), 2048)
	require.NoError(t, err)
	assert.EqualValues(t, 2048, n)
	require.NoError(t, f.Close())

	got, err := os.ReadFile(filepath.Join(dest, "root", "sub", "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 2048), got)
}

func TestOpenForWriteResumesAtOffset(t *testing.T) {
	dest := t.TempDir()
	m, err := materializer.New(dest)
	require.NoError(t, err)

	existing := bytes.Repeat([]byte{0xAA}, 500)
	require.NoError(t, os.WriteFile(filepath.Join(dest, "big.bin"), existing, 0o644))

	f, err := m.OpenForWrite([]string{"big.bin"}, 500, false)
	require.NoError(t, err)
	_, err = materializer.WriteStream(f, bytes.NewReader(bytes.Repeat([]byte{0xBB}, 500)), 500)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := os.ReadFile(filepath.Join(dest, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, append(existing, bytes.Repeat([]byte{0xBB}, 500)...), got)
}

func TestOpenForWriteTruncatesOnMismatch(t *testing.T) {
	dest := t.TempDir()
	m, err := materializer.New(dest)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dest, "big.bin"), bytes.Repeat([]byte{0xCC}, 500), 0o644))

	f, err := m.OpenForWrite([]string{"big.bin"}, 0, true)
	require.NoError(t, err)
	_, err = materializer.WriteStream(f, bytes.NewReader(bytes.Repeat([]byte{0xDD}, 10)), 10)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := os.ReadFile(filepath.Join(dest, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xDD}, 10), got)
}

func TestResolveRejectsPathEscape(t *testing.T) {
	dest := t.TempDir()
	m, err := materializer.New(dest)
	require.NoError(t, err)

	_, err = m.Resolve([]string{"..", "..", "etc", "passwd"})
	var escapeErr *materializer.PathEscapeError
	require.ErrorAs(t, err, &escapeErr)
}

func TestMakeDirReplacesFileOfWrongType(t *testing.T) {
	dest := t.TempDir()
	m, err := materializer.New(dest)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dest, "node"), []byte("x"), 0o644))
	require.NoError(t, m.MakeDir([]string{"node"}))

	info, err := os.Stat(filepath.Join(dest, "node"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
