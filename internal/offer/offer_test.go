package offer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qstransfer/qs/internal/fstree"
	"github.com/qstransfer/qs/internal/offer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndToWireRoundTrip(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644))

	o, absPaths, err := offer.Build(fstree.OSProvider{}, []string{root}, 1, []byte("0123456789abcdef"))
	require.NoError(t, err)
	require.Len(t, o.Entries, 2)
	require.Len(t, absPaths, 2)

	w := o.ToWire()
	back := offer.FromWire(w)
	assert.Equal(t, o, back)
}

func TestBuildResumeTableMatchingTail(t *testing.T) {
	dir := t.TempDir()
	o := offer.Offer{
		Entries: []offer.FileEntry{
			{RelativePath: []string{"big.bin"}, Size: 1024 * 1024},
		},
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 500*1024), 0o644))

	table, err := offer.BuildResumeTable(o, dir)
	require.NoError(t, err)
	assert.Equal(t, offer.ResumeTable{500 * 1024}, table)
}

func TestBuildResumeTableOversizedExisting(t *testing.T) {
	dir := t.TempDir()
	o := offer.Offer{
		Entries: []offer.FileEntry{
			{RelativePath: []string{"f.bin"}, Size: 10},
		},
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), make([]byte, 100), 0o644))

	table, err := offer.BuildResumeTable(o, dir)
	require.NoError(t, err)
	assert.Equal(t, offer.ResumeTable{0}, table)
}

func TestBuildResumeTableMissingFile(t *testing.T) {
	dir := t.TempDir()
	o := offer.Offer{
		Entries: []offer.FileEntry{
			{RelativePath: []string{"missing.bin"}, Size: 42},
		},
	}
	table, err := offer.BuildResumeTable(o, dir)
	require.NoError(t, err)
	assert.Equal(t, offer.ResumeTable{0}, table)
}

func TestValidateRejectsLengthMismatch(t *testing.T) {
	o := offer.Offer{Entries: []offer.FileEntry{{Size: 10}, {Size: 20}}}
	err := offer.Validate(o, offer.ResumeTable{5})
	assert.Error(t, err)
}

func TestValidateRejectsOversizedResumeValue(t *testing.T) {
	o := offer.Offer{Entries: []offer.FileEntry{{Size: 10}}}
	err := offer.Validate(o, offer.ResumeTable{11})
	assert.Error(t, err)
}

func TestValidateAccepts(t *testing.T) {
	o := offer.Offer{Entries: []offer.FileEntry{{Size: 10}, {Size: 0, IsDir: true}}}
	err := offer.Validate(o, offer.ResumeTable{10, 0})
	assert.NoError(t, err)
}
