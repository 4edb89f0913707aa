package archive

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeka/zip"
)

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractFiltersEntries(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"report1.pdf":          []byte("pdf-bytes"),
		"scans/report2.jpg":    []byte("jpg-bytes"),
		".hidden.png":          []byte("hidden"),
		"__MACOSX/._thing.pdf": []byte("fork"),
		"scans/._report2.jpg":  []byte("fork"),
		"notes.txt":            []byte("not ingestible"),
	})

	entries, err := Extract(data, "batch.zip")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := []string{entries[0].Name, entries[1].Name}
	assert.ElementsMatch(t, []string{"report1.pdf", "report2.jpg"}, names)
}

func TestExtractNoValidEntries(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"readme.txt": []byte("nope"),
		".DS_Store":  []byte("nope"),
	})

	_, err := Extract(data, "batch.zip")
	assert.ErrorIs(t, err, ErrNoValidEntries)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	_, err := Extract([]byte("whatever"), "batch.7z")
	assert.ErrorIs(t, err, ErrUnsupportedArchive)
}

func TestExtractCorruptZip(t *testing.T) {
	_, err := Extract([]byte("this is not a zip"), "batch.zip")
	assert.Error(t, err)
}

func TestValidEntryName(t *testing.T) {
	cases := map[string]bool{
		"report.pdf":            true,
		"scans/report.JPG":      true,
		"report.webp":           true,
		".hidden.pdf":           false,
		"a/.hidden.pdf":         false,
		"._resource.pdf":        false,
		"__MACOSX/report.pdf":   false,
		"a/__MACOSX/report.pdf": false,
		"report.txt":            false,
		"report":                false,
	}
	for name, want := range cases {
		assert.Equal(t, want, ValidEntryName(name), "entry %q", name)
	}
}

func TestMimeForName(t *testing.T) {
	assert.Equal(t, "application/pdf", MimeForName("a.pdf"))
	assert.Equal(t, "image/jpeg", MimeForName("a.JPEG"))
	assert.Equal(t, "", MimeForName("a.txt"))
}

func TestIsArchive(t *testing.T) {
	assert.True(t, IsArchive("x.zip"))
	assert.True(t, IsArchive("x.RAR"))
	assert.False(t, IsArchive("x.pdf"))
}
