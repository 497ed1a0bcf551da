package pose

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	// Registered decoders for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"

	"github.com/isopose/isopose/internal/tensor"
)

// Normalization applied per channel after scaling pixels to [0, 1].
const (
	channelMean = 0.5
	channelStd  = 0.5
)

// DecodeBase64 returns the raw bytes of a base64 image, dropping any data-URL
// prefix up to the last comma. Whitespace is ignored and padding is optional.
func DecodeBase64(s string) ([]byte, error) {
	if i := strings.LastIndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")

	data, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	return data, nil
}

// DecodeImage decodes PNG, JPEG, GIF, WebP, BMP or TIFF bytes.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("cannot identify image: %w", err)
	}
	return img, format, nil
}

// DecodeBase64Image combines DecodeBase64 and DecodeImage.
func DecodeBase64Image(s string) (image.Image, error) {
	data, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}
	img, _, err := DecodeImage(data)
	return img, err
}

// toRGB copies img into an opaque NRGBA image. Alpha is discarded rather
// than composited, so a transparent pixel keeps its stored color.
func toRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	rgb := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		// Copy rows directly; going through color.Color would premultiply
		// and lose the color of transparent pixels.
		for y := 0; y < b.Dy(); y++ {
			copy(rgb.Pix[y*rgb.Stride:(y+1)*rgb.Stride], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	} else {
		draw.Draw(rgb, rgb.Bounds(), img, b.Min, draw.Src)
	}
	for i := 3; i < len(rgb.Pix); i += 4 {
		rgb.Pix[i] = 0xff
	}
	return rgb
}

// Resize scales img to size×size RGB with a bilinear kernel.
func Resize(img image.Image, size int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	src := toRGB(img)
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Preprocess converts img into the pose model input: RGB resized to
// size×size, scaled to [0, 1], normalized with mean 0.5 and std 0.5, laid out
// as [1, 3, size, size].
func Preprocess(img image.Image, size int) (*tensor.RawTensor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid image size %d", size)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, fmt.Errorf("empty image %v", b)
	}

	resized := Resize(img, size)
	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[4*x : 4*x+3]
			i := y*size + x
			for c := 0; c < 3; c++ {
				data[c*plane+i] = (float32(px[c])/255 - channelMean) / channelStd
			}
		}
	}
	return tensor.FromFloat32(tensor.Shape{1, 3, size, size}, data)
}
