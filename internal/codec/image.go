package codec

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 90

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// encodeImage は PNG または JPEG で書き出します。JPEG は透過を白背景に合成します。
func encodeImage(img image.Image, to Format, out string) (err error) {
	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	switch to {
	case FormatPNG:
		return png.Encode(f, img)
	case FormatJPG:
		return jpeg.Encode(f, flatten(img), &jpeg.Options{Quality: jpegQuality})
	default:
		return fmt.Errorf("%w: encode %s", ErrUnsupportedConversion, to)
	}
}

func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

func transcodeImage(in string, to Format, out string) error {
	img, err := decodeImage(in)
	if err != nil {
		return err
	}
	return encodeImage(img, to, out)
}
