// Copyright 2024 Mediatheque Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package thumb generates derived raster sizes for committed images. A
// missing derivative is a degraded-but-valid state: generation runs after
// commit, failures are logged, and anything missing can be re-derived on
// demand.
package thumb

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
)

// Box is the bounding box a derivative must fit inside.
type Box struct {
	Width  int
	Height int
}

func (b Box) String() string { return fmt.Sprintf("%dx%d", b.Width, b.Height) }

// Raster is a derived image and its final dimensions.
type Raster struct {
	Data   []byte
	Width  int
	Height int
}

// Codec produces a derived raster fitting a bounding box from a source
// image stream. Implementations may shell out to an external re-encoder;
// the engine only depends on this boundary.
type Codec interface {
	Derive(src io.Reader, box Box) (Raster, error)
}

// RasterCodec is the built-in Codec: decodes JPEG, PNG and GIF, scales
// with Catmull-Rom resampling, and encodes JPEG output.
type RasterCodec struct {
	// Quality is the JPEG output quality; zero means DefaultQuality.
	Quality int
}

// DefaultQuality matches the encoder default used for derivatives.
const DefaultQuality = 85

func (c *RasterCodec) Derive(src io.Reader, box Box) (Raster, error) {
	if box.Width <= 0 || box.Height <= 0 {
		return Raster{}, fmt.Errorf("invalid bounding box %s", box)
	}

	img, _, err := image.Decode(src)
	if err != nil {
		return Raster{}, fmt.Errorf("decode source image: %w", err)
	}

	w, h := fit(img.Bounds().Dx(), img.Bounds().Dy(), box)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	quality := c.Quality
	if quality == 0 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return Raster{}, fmt.Errorf("encode derivative: %w", err)
	}
	return Raster{Data: buf.Bytes(), Width: w, Height: h}, nil
}

// fit scales (srcW, srcH) down to fit inside box preserving aspect ratio.
// Images already inside the box keep their dimensions.
func fit(srcW, srcH int, box Box) (int, int) {
	if srcW <= box.Width && srcH <= box.Height {
		return srcW, srcH
	}
	rw := float64(box.Width) / float64(srcW)
	rh := float64(box.Height) / float64(srcH)
	r := rw
	if rh < rw {
		r = rh
	}
	w := int(float64(srcW) * r)
	h := int(float64(srcH) * r)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
