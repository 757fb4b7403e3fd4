package attachments

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessStoresFilesAndMetadata(t *testing.T) {
	p := NewDiskProcessor(t.TempDir())
	data := pngBytes(t, 20, 10, color.RGBA{R: 255, A: 255})

	stored, err := p.Process(context.Background(), data, "image/png", "conv-1", "http://localhost:8083")
	require.NoError(t, err)

	assert.Equal(t, 20, stored.Width)
	assert.Equal(t, 10, stored.Height)
	assert.Equal(t, "#ff0000", stored.Color)
	assert.Contains(t, stored.FullURL, "http://localhost:8083/uploads/messages/conv-1/")
	assert.Contains(t, stored.ThumbnailURL, "_thumb.jpg")

	for _, path := range []string{stored.FullPath, stored.ThumbnailPath} {
		_, err := os.Stat(path)
		assert.NoError(t, err, "expected %s on disk", path)
	}
}

func TestProcessRejectsUnsupportedMimetype(t *testing.T) {
	p := NewDiskProcessor(t.TempDir())

	_, err := p.Process(context.Background(), []byte("not an image"), "application/pdf", "conv-1", "http://h")
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestProcessRejectsCorruptImage(t *testing.T) {
	root := t.TempDir()
	p := NewDiskProcessor(root)

	_, err := p.Process(context.Background(), []byte("garbage"), "image/png", "conv-1", "http://h")
	require.Error(t, err)

	// Nothing may be left behind on a failed process.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveDeletesStoredFiles(t *testing.T) {
	p := NewDiskProcessor(t.TempDir())
	data := pngBytes(t, 4, 4, color.RGBA{B: 255, A: 255})

	stored, err := p.Process(context.Background(), data, "image/png", "conv-2", "http://h")
	require.NoError(t, err)

	require.NoError(t, p.Remove(stored.FullPath, stored.ThumbnailPath))
	_, err = os.Stat(stored.FullPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(stored.ThumbnailPath)
	assert.True(t, os.IsNotExist(err))

	// Removing again is a no-op, not an error.
	assert.NoError(t, p.Remove(stored.FullPath, stored.ThumbnailPath))
}
