package utils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
	"landrecord-extractor/internal/types"
)

var (
	tiffLittleEndian = []byte("II*\x00")
	tiffBigEndian    = []byte("MM\x00*")
)

// IsTIFF reports whether head starts with a TIFF byte-order mark.
func IsTIFF(head []byte) bool {
	return bytes.HasPrefix(head, tiffLittleEndian) || bytes.HasPrefix(head, tiffBigEndian)
}

// DetectRaster classifies a raster payload. Viewers sometimes serve the "TIFF" page as PNG or JPEG.
func DetectRaster(head []byte) (types.ArtifactFormat, string, bool) {
	if IsTIFF(head) {
		return types.ArtifactTIFF, "tiff", true
	}
	switch http.DetectContentType(head) {
	case "image/png":
		return types.ArtifactPNG, "png", true
	case "image/jpeg":
		return types.ArtifactPNG, "jpg", true
	case "image/gif":
		return types.ArtifactPNG, "gif", true
	}
	return "", "", false
}

// VerifyRaster rejects bodies that are not images, typically an HTML error or login page.
func VerifyRaster(head []byte, contentType string) error {
	if _, _, ok := DetectRaster(head); ok {
		return nil
	}
	return fmt.Errorf("not a raster image (content-type %q)", contentType)
}

// ConvertToPNG decodes the first page of a TIFF (or any registered raster format) and writes it as PNG.
func ConvertToPNG(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open raster: %w", err)
	}
	defer in.Close()

	var img image.Image
	if strings.EqualFold(filepath.Ext(src), ".tiff") || strings.EqualFold(filepath.Ext(src), ".tif") {
		img, err = tiff.Decode(in)
	} else {
		img, _, err = image.Decode(in)
	}
	if err != nil {
		return fmt.Errorf("decode raster: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("encode png: %w", err)
	}
	return out.Close()
}
