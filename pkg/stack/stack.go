// Package stack reads and writes volumes as directories of 2-D slice
// images, one image per Z plane.  Slices are ordered by the number embedded
// in their file name so that "slice_2.png" precedes "slice_10.png".
//
// Label slices must be lossless (PNG or TIFF) and are read as 16-bit gray
// values.  Intensity slices may also be JPEG.
package stack

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"objpop3d/internal/logging"
	"objpop3d/internal/models"
	"objpop3d/pkg/population"
)

// Format is a slice image encoding used when writing.
type Format string

const (
	PNG  Format = "png"
	TIFF Format = "tiff"
)

var labelExts = map[string]bool{".png": true, ".tif": true, ".tiff": true}

var intensityExts = map[string]bool{".png": true, ".tif": true, ".tiff": true, ".jpg": true, ".jpeg": true}

// ListSlices returns the slice files of dir with one of the given
// extensions, ordered by embedded number and then by name.
func ListSlices(dir string, exts map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if exts[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}
	sort.Slice(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	for i, name := range files {
		files[i] = filepath.Join(dir, name)
	}
	return files, nil
}

// extractNumber returns the digits of the file's base name as a number, or
// zero if there are none.
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

// imageFromFile decodes an image of any registered format.
func imageFromFile(filename string) (image.Image, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding slice %s", filename)
	}
	return img, nil
}

// readSlices decodes every slice and calls set for each gray value.  All
// slices must share the dimensions of the first.
func readSlices(files []string, alloc func(w, h, d int), set func(x, y, z int, v uint16)) error {
	var width, height int
	for z, filename := range files {
		img, err := imageFromFile(filename)
		if err != nil {
			return err
		}
		bounds := img.Bounds()
		if z == 0 {
			width, height = bounds.Dx(), bounds.Dy()
			alloc(width, height, len(files))
		} else if bounds.Dx() != width || bounds.Dy() != height {
			return population.ConfigErrorf("LoadSlices", "slice %s is %dx%d, expected %dx%d",
				filepath.Base(filename), bounds.Dx(), bounds.Dy(), width, height)
		}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				gray := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				set(x, y, z, gray.Y)
			}
		}
	}
	logging.Infof("Loaded %d slices of %dx%d (%s voxels)\n", len(files), width, height,
		humanize.Comma(int64(width*height*len(files))))
	return nil
}

// LoadLabels reads a label volume from the slices in dir.
func LoadLabels(dir string) (*models.LabelVolume, error) {
	files, err := ListSlices(dir, labelExts)
	if err != nil {
		return nil, err
	}
	var vol *models.LabelVolume
	err = readSlices(files,
		func(w, h, d int) { vol = models.NewLabelVolume(w, h, d) },
		func(x, y, z int, v uint16) { vol.Set(x, y, z, uint32(v)) })
	if err != nil {
		return nil, err
	}
	return vol, nil
}

// LoadIntensities reads an intensity volume from the slices in dir.  Values
// are the raw 16-bit gray levels.
func LoadIntensities(dir string) (*models.IntensityVolume, error) {
	files, err := ListSlices(dir, intensityExts)
	if err != nil {
		return nil, err
	}
	var vol *models.IntensityVolume
	err = readSlices(files,
		func(w, h, d int) { vol = models.NewIntensityVolume(w, h, d) },
		func(x, y, z int, v uint16) { vol.Set(x, y, z, float64(v)) })
	if err != nil {
		return nil, err
	}
	return vol, nil
}

// Rasterize paints every object of pop into a label volume of the given
// extent using the objects' current labels.
func Rasterize(pop *population.Population, width, height, depth int) (*models.LabelVolume, error) {
	vol := models.NewLabelVolume(width, height, depth)
	ext := vol.Extent()
	for _, obj := range pop.Objects() {
		box := obj.BoundingBox()
		if !ext.Contains(box.Min) || !ext.Contains(box.Max) {
			return nil, population.ConfigErrorf("Rasterize", "object %d with bounds %s lies outside %s",
				obj.Label(), box, ext)
		}
		for _, pt := range obj.Points() {
			vol.Set(int(pt[0]), int(pt[1]), int(pt[2]), obj.Label())
		}
	}
	return vol, nil
}

// SaveLabels writes pop as label slices named label_000.<ext> and so on.
// The population must carry an image extent and at most 65535 objects.
func SaveLabels(pop *population.Population, dir string, format Format) error {
	ext, ok := pop.Extent()
	if !ok {
		return population.ConfigErrorf("SaveLabels", "population has no image extent")
	}
	if pop.Len() > 0xFFFF {
		return population.ConfigErrorf("SaveLabels", "%d objects do not fit 16-bit label slices", pop.Len())
	}
	vol, err := Rasterize(pop, int(ext.Width), int(ext.Height), int(ext.Depth))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var suffix string
	switch format {
	case PNG:
		suffix = "png"
	case TIFF:
		suffix = "tif"
	default:
		return fmt.Errorf("unknown slice format %q", format)
	}

	for z := 0; z < vol.Depth; z++ {
		img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(vol.At(x, y, z))})
			}
		}
		filename := filepath.Join(dir, fmt.Sprintf("label_%03d.%s", z, suffix))
		if err := writeImage(filename, img, format); err != nil {
			return errors.Wrapf(err, "writing slice %d", z)
		}
	}
	logging.Infof("Wrote %d label slices with %s objects to %s\n", vol.Depth, humanize.Comma(int64(pop.Len())), dir)
	return nil
}

func writeImage(filename string, img image.Image, format Format) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if format == TIFF {
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	} else {
		err = png.Encode(f, img)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
