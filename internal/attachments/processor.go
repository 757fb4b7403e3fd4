// Package attachments stores message image attachments on local disk and
// produces the thumbnail and color metadata the clients render while the
// full image loads.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// ErrUnsupportedType is returned for mimetypes the processor cannot decode.
var ErrUnsupportedType = errors.New("unsupported attachment type")

// Stored describes a persisted attachment. Paths are local filesystem
// paths used for rollback; URLs are what clients receive.
type Stored struct {
	FullURL       string
	ThumbnailURL  string
	FullPath      string
	ThumbnailPath string
	Color         string
	Height        int
	Width         int
}

// Processor persists attachments and removes them again when a send is
// rolled back.
type Processor interface {
	Process(ctx context.Context, data []byte, mimetype, conversationID, baseURL string) (Stored, error)
	Remove(paths ...string) error
}

const thumbnailMaxEdge = 400

var extByMimetype = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// DiskProcessor writes attachments under a root directory, served back to
// clients below the /uploads route.
type DiskProcessor struct {
	root string
}

// NewDiskProcessor builds a DiskProcessor rooted at dir.
func NewDiskProcessor(dir string) *DiskProcessor {
	return &DiskProcessor{root: dir}
}

// Process decodes the image, writes the original plus a thumbnail, and
// returns URLs and color metadata. On any error nothing is left on disk.
func (p *DiskProcessor) Process(ctx context.Context, data []byte, mimetype, conversationID, baseURL string) (Stored, error) {
	ext, ok := extByMimetype[mimetype]
	if !ok {
		return Stored{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimetype)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Stored{}, fmt.Errorf("decode attachment: %w", err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	dir := filepath.Join(p.root, "messages", conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Stored{}, fmt.Errorf("create attachment dir: %w", err)
	}

	name := uuid.NewString()
	fullPath := filepath.Join(dir, name+ext)
	thumbPath := filepath.Join(dir, name+"_thumb.jpg")

	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Stored{}, fmt.Errorf("write attachment: %w", err)
	}

	thumb := scaleDown(img, thumbnailMaxEdge)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		_ = os.Remove(fullPath)
		return Stored{}, fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := os.WriteFile(thumbPath, buf.Bytes(), 0o644); err != nil {
		_ = os.Remove(fullPath)
		return Stored{}, fmt.Errorf("write thumbnail: %w", err)
	}

	rel := filepath.ToSlash(filepath.Join("messages", conversationID, name))
	return Stored{
		FullURL:       baseURL + "/uploads/" + rel + ext,
		ThumbnailURL:  baseURL + "/uploads/" + rel + "_thumb.jpg",
		FullPath:      fullPath,
		ThumbnailPath: thumbPath,
		Color:         averageColor(img),
		Height:        height,
		Width:         width,
	}, nil
}

// Remove deletes stored files, ignoring ones already gone. Used to roll
// back attachments when a send fails after processing.
func (p *DiskProcessor) Remove(paths ...string) error {
	var firstErr error
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func scaleDown(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	scale := float64(maxEdge) / float64(w)
	if h > w {
		scale = float64(maxEdge) / float64(h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// averageColor samples the image and returns the mean color as a hex
// string, used by clients as a placeholder while the image loads.
func averageColor(img image.Image) string {
	bounds := img.Bounds()
	step := bounds.Dx() / 32
	if step < 1 {
		step = 1
	}

	var r, g, b, n uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			r += uint64(pr >> 8)
			g += uint64(pg >> 8)
			b += uint64(pb >> 8)
			n++
		}
	}
	if n == 0 {
		return "#000000"
	}
	return fmt.Sprintf("#%02x%02x%02x", r/n, g/n, b/n)
}
