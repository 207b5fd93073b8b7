package imageio

import (
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/spakin/netpbm"
)

// Limits on decoded images. Headers are checked against them before any
// raster memory is allocated.
const (
	MaxDimension = 1 << 16
	MaxPixels    = 1 << 28
)

var errTooLarge = errors.New("image too large")

func checkBounds(cfg image.Config) error {
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", w, h)
	}
	if w > MaxDimension || h > MaxDimension || w > MaxPixels/h {
		return fmt.Errorf("%w: %dx%d", errTooLarge, w, h)
	}
	return nil
}

// DecodePGM reads a Netpbm image as 8-bit grayscale. Plain and binary
// graymaps with any maxval are rescaled to 8 bits; bitmaps and pixmaps are
// converted. r is rewound after the header check.
func DecodePGM(r io.ReadSeeker) (*Gray, error) {
	cfg, err := netpbm.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("pgm header: %w", err)
	}
	if err := checkBounds(cfg); err != nil {
		return nil, fmt.Errorf("pgm header: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, err := netpbm.Decode(r, &netpbm.DecodeOptions{Target: netpbm.PGM})
	if err != nil {
		return nil, fmt.Errorf("pgm raster: %w", err)
	}
	return FromImage(img), nil
}

// EncodePGM writes img as a binary (P5) graymap with maxval 255.
func EncodePGM(w io.Writer, img *Gray) error {
	return netpbm.Encode(w, img.Image(), &netpbm.EncodeOptions{
		Format:   netpbm.PGM,
		MaxValue: 255,
	})
}
