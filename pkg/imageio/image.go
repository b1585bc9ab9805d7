// Package imageio loads face images from files, URLs and raw buffers and
// normalizes them into JPEG-encoded match.FaceImage values.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/MrCodeEU/facecheck/pkg/match"
)

// DefaultMaxSize is the longest edge a loaded face is scaled down to.
const DefaultMaxSize = 800

// JPEGQuality is used when re-encoding images.
const JPEGQuality = 90

// ErrEmptyImage is returned for zero-length input.
var ErrEmptyImage = errors.New("empty image data")

// Decode decodes any supported format (jpeg, png, gif, webp, bmp).
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// DecodeFace decodes the pixel buffer of a FaceImage.
func DecodeFace(f match.FaceImage) (image.Image, error) {
	img, _, err := Decode(f.Bytes())
	return img, err
}

// Resize scales img to fit within maxSize on its longest edge, keeping the
// aspect ratio. Images that already fit are returned unchanged.
func Resize(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// FromImage builds a FaceImage from a decoded image.
func FromImage(ref string, img image.Image, maxSize int) (match.FaceImage, error) {
	img = Resize(img, maxSize)
	data, err := EncodeJPEG(img)
	if err != nil {
		return match.FaceImage{}, err
	}
	b := img.Bounds()
	return match.NewFaceImage(ref, b.Dx(), b.Dy(), data), nil
}

// Load decodes data in any supported format and normalizes it to a JPEG FaceImage.
func Load(ref string, data []byte, maxSize int) (match.FaceImage, error) {
	img, _, err := Decode(data)
	if err != nil {
		return match.FaceImage{}, fmt.Errorf("%s: %w", ref, err)
	}
	return FromImage(ref, img, maxSize)
}

// LoadFile reads and loads an image file.
func LoadFile(ref, path string, maxSize int) (match.FaceImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return match.FaceImage{}, fmt.Errorf("failed to read image: %w", err)
	}
	return Load(ref, data, maxSize)
}
