/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package frame

import (
	"fmt"
	"image"
	"image/draw"
	"math"
)

const (
	// FreezeThreshold is the mean absolute channel difference below which
	// two frames count as identical.
	FreezeThreshold = 1.0
	// BlindMeanThreshold and BlindStdThreshold bound the gray-level mean and
	// standard deviation of an occluded frame.
	BlindMeanThreshold = 30.0
	BlindStdThreshold  = 10.0
)

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	return rgba
}

// MeanAbsDiff is the mean absolute difference over the R, G and B channels
// of two equally sized frames.
func MeanAbsDiff(a, b image.Image) (float64, error) {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d", ErrDimensionMismatch, ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}

	w, h := ab.Dx(), ab.Dy()
	if w == 0 || h == 0 {
		return 0, nil
	}

	ra, rb := toRGBA(a), toRGBA(b)

	var sum uint64

	for y := 0; y < h; y++ {
		rowA := ra.Pix[ra.PixOffset(ra.Rect.Min.X, ra.Rect.Min.Y+y):]
		rowB := rb.Pix[rb.PixOffset(rb.Rect.Min.X, rb.Rect.Min.Y+y):]

		for x := 0; x < w; x++ {
			i := x * 4
			sum += absDiff(rowA[i], rowB[i])
			sum += absDiff(rowA[i+1], rowB[i+1])
			sum += absDiff(rowA[i+2], rowB[i+2])
		}
	}

	return float64(sum) / float64(w*h*3), nil
}

func absDiff(a, b uint8) uint64 {
	if a > b {
		return uint64(a - b)
	}

	return uint64(b - a)
}

// GrayStats returns the mean and population standard deviation of the
// frame's 8-bit luma (0.299R + 0.587G + 0.114B).
func GrayStats(img image.Image) (mean, std float64) {
	rgba := toRGBA(img)
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()

	n := w * h
	if n == 0 {
		return 0, 0
	}

	var sum, sumSq float64

	for y := 0; y < h; y++ {
		row := rgba.Pix[rgba.PixOffset(rgba.Rect.Min.X, rgba.Rect.Min.Y+y):]

		for x := 0; x < w; x++ {
			i := x * 4
			g := math.Round(0.299*float64(row[i]) + 0.587*float64(row[i+1]) + 0.114*float64(row[i+2]))
			sum += g
			sumSq += g * g
		}
	}

	mean = sum / float64(n)

	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}

	return mean, math.Sqrt(variance)
}

// IsFrozen reports whether two frames are close enough to count as the
// same picture.
func IsFrozen(a, b image.Image) (bool, error) {
	diff, err := MeanAbsDiff(a, b)
	if err != nil {
		return false, err
	}

	return diff < FreezeThreshold, nil
}

// IsBlinded reports whether the frame is dark and featureless.
func IsBlinded(img image.Image) bool {
	mean, std := GrayStats(img)

	return mean < BlindMeanThreshold && std < BlindStdThreshold
}
