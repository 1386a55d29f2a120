package apk

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/webp"

	"github.com/kaifeng/apkmorph/pkg/archive"
)

// StandardIconSize is the edge length icons are normalized to.
const StandardIconSize = 144

// IconExtractor pulls the launcher icon out of an unpacked package and
// normalizes it to a PNG of StandardIconSize.
type IconExtractor struct {
	targetSize uint
}

// NewIconExtractor creates an extractor with the standard target size.
func NewIconExtractor() *IconExtractor {
	return &IconExtractor{targetSize: StandardIconSize}
}

// Priority order for icon selection: densest mipmap first, then
// drawables, then webp variants.
var iconPriorities = []string{
	"res/mipmap-xxxhdpi/ic_launcher.png",
	"res/mipmap-xxhdpi/ic_launcher.png",
	"res/mipmap-xhdpi/ic_launcher.png",
	"res/mipmap-hdpi/ic_launcher.png",
	"res/drawable-xxxhdpi/ic_launcher.png",
	"res/drawable-xxhdpi/ic_launcher.png",
	"res/drawable-xhdpi/ic_launcher.png",
	"res/drawable-hdpi/ic_launcher.png",
	"res/mipmap-xxxhdpi/ic_launcher.webp",
	"res/mipmap-xxhdpi/ic_launcher.webp",
	"res/mipmap-xhdpi/ic_launcher.webp",
	"res/mipmap-hdpi/ic_launcher.webp",
}

// ExtractIcon returns the normalized launcher icon as PNG bytes.
func (e *IconExtractor) ExtractIcon(entries []archive.Entry) ([]byte, error) {
	for _, iconPath := range iconPriorities {
		if entry, ok := archive.Find(entries, iconPath); ok {
			return e.processIcon(entry.Data, filepath.Ext(iconPath))
		}
	}

	// No standard icon found; accept any launcher icon that is not an
	// adaptive-icon layer.
	for _, entry := range entries {
		if !strings.Contains(entry.Path, "ic_launcher") {
			continue
		}
		if !strings.HasSuffix(entry.Path, ".png") && !strings.HasSuffix(entry.Path, ".webp") {
			continue
		}
		if strings.Contains(entry.Path, "_foreground") || strings.Contains(entry.Path, "_background") {
			continue
		}
		return e.processIcon(entry.Data, filepath.Ext(entry.Path))
	}

	return nil, fmt.Errorf("no launcher icon found in package")
}

// processIcon decodes, resizes and re-encodes the icon as PNG.
func (e *IconExtractor) processIcon(iconData []byte, ext string) ([]byte, error) {
	var img image.Image
	var err error

	if ext == ".webp" {
		img, err = webp.Decode(bytes.NewReader(iconData))
		if err != nil {
			return nil, fmt.Errorf("failed to decode webp: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(iconData))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
	}

	resized := resize.Resize(e.targetSize, e.targetSize, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}
