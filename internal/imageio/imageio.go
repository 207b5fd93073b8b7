// Package imageio loads and stores 8-bit grayscale images. Netpbm files go
// through netpbm; PNG, JPEG, GIF, BMP and TIFF go through imaging. Both are
// converted to grayscale on load.
package imageio

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/cwbudde/clblur/internal/fault"
)

// Gray is a row-major 8-bit grayscale raster.
type Gray struct {
	Pix    []byte
	Width  int
	Height int
}

// NewGray allocates a zeroed width×height image.
func NewGray(width, height int) *Gray {
	return &Gray{Pix: make([]byte, width*height), Width: width, Height: height}
}

// Checksum returns the hex SHA-256 of the pixel data.
func (g *Gray) Checksum() string {
	sum := sha256.Sum256(g.Pix)
	return hex.EncodeToString(sum[:])
}

// Image returns g as a standard library image sharing the pixel buffer.
func (g *Gray) Image() *image.Gray {
	return &image.Gray{Pix: g.Pix, Stride: g.Width, Rect: image.Rect(0, 0, g.Width, g.Height)}
}

// FromImage converts any image to grayscale.
func FromImage(src image.Image) *Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return &Gray{Pix: dst.Pix, Width: b.Dx(), Height: b.Dy()}
}

func isPGM(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pgm" || ext == ".pnm"
}

// Load reads the image at path. Failures, including images larger than
// MaxDimension or MaxPixels, are IOError.
func Load(path string) (*Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.New(fault.IOError, "load image", err)
	}
	defer f.Close()

	if isPGM(path) {
		img, err := DecodePGM(f)
		if err != nil {
			return nil, fault.New(fault.IOError, "load image", fmt.Errorf("%s: %w", path, err))
		}
		return img, nil
	}

	cfg, _, err := image.DecodeConfig(f)
	if err == nil {
		err = checkBounds(cfg)
	}
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		return nil, fault.New(fault.IOError, "load image", fmt.Errorf("%s: %w", path, err))
	}

	src, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fault.New(fault.IOError, "load image", fmt.Errorf("%s: %w", path, err))
	}
	return FromImage(src), nil
}

// Save writes img to path, creating the parent directory. The encoder is
// chosen from the file extension. The file is written to a temporary name
// and renamed into place.
func Save(path string, img *Gray) error {
	if len(img.Pix) != img.Width*img.Height {
		return fault.Newf(fault.SizeMismatch, "save image", "%d pixels for %dx%d", len(img.Pix), img.Width, img.Height)
	}

	var format imaging.Format
	if !isPGM(path) {
		var err error
		if format, err = imaging.FormatFromFilename(path); err != nil {
			return fault.New(fault.IOError, "save image", err)
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fault.New(fault.IOError, "save image", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fault.New(fault.IOError, "save image", err)
	}

	if isPGM(path) {
		err = EncodePGM(f, img)
	} else {
		err = imaging.Encode(f, img.Image(), format)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fault.New(fault.IOError, "save image", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fault.New(fault.IOError, "save image", err)
	}
	return nil
}
