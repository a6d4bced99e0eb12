package imagetext

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"slices"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// DefaultMaxPixels bounds the decoded size of an image, 25 megapixels.
const DefaultMaxPixels = 25_000_000

// Decode turns encoded bytes (png, jpeg, gif, bmp, tiff) into an image.
// The dimensions are read from the header first; images larger than
// maxPixels are rejected before any pixel buffer is allocated. maxPixels <= 0
// disables the check.
func Decode(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, format, fmt.Errorf("%w: %dx%d exceeds the %d pixel limit",
			ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, format, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	return img, format, nil
}

// Grayscale converts img to a single 8-bit channel using ITU-R 601 luma weights.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			out.Pix[y*out.Stride+x] = g.Y
		}
	}
	return out
}

// MedianFilter replaces each pixel with the median of its (2r+1)x(2r+1)
// neighbourhood. Borders replicate the edge pixels. radius 0 returns a copy.
func MedianFilter(src *image.Gray, radius int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if radius <= 0 {
		for y := 0; y < h; y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+w], src.Pix[y*src.Stride:y*src.Stride+w])
		}
		return out
	}

	window := make([]uint8, 0, (2*radius+1)*(2*radius+1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -radius; dy <= radius; dy++ {
				yy := clamp(y+dy, 0, h-1)
				row := src.Pix[yy*src.Stride:]
				for dx := -radius; dx <= radius; dx++ {
					window = append(window, row[clamp(x+dx, 0, w-1)])
				}
			}
			slices.Sort(window)
			out.Pix[y*out.Stride+x] = window[len(window)/2]
		}
	}
	return out
}

// OtsuThreshold returns the intensity t that maximises the between-class
// variance of the two classes {<= t} and {> t}, which is the same as
// minimising the intra-class variance.
func OtsuThreshold(src *image.Gray) uint8 {
	var hist [256]int
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		for _, v := range src.Pix[y*src.Stride : y*src.Stride+w] {
			hist[v]++
		}
	}

	total := float64(w * h)
	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}

	var sumB, wB, best float64
	maxVar := -1.0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			best = float64(t)
		}
	}
	return uint8(best)
}

// Binarize maps pixels above t to white and the rest to black.
func Binarize(src *image.Gray, t uint8) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if src.Pix[y*src.Stride+x] > t {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// Preprocess runs decode, grayscale, median denoise and Otsu binarization.
func Preprocess(data []byte, medianRadius, maxPixels int) (*image.Gray, error) {
	img, _, err := Decode(data, maxPixels)
	if err != nil {
		return nil, err
	}
	gray := Grayscale(img)
	denoised := MedianFilter(gray, medianRadius)
	return Binarize(denoised, OtsuThreshold(denoised)), nil
}

// isUniform reports whether every pixel of a binarized image has the same value.
func isUniform(img *image.Gray) bool {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	first := img.Pix[0]
	for y := 0; y < h; y++ {
		for _, v := range img.Pix[y*img.Stride : y*img.Stride+w] {
			if v != first {
				return false
			}
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
