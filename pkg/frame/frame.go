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

// Package frame pulls decoded video frames from camera streams and computes
// the image statistics used by the stream-quality probes.
package frame

//go:generate mockgen -destination=mock_frame.go -package=frame github.com/carverauto/edgeprobe/pkg/frame Grabber,Stream,Checker

import (
	"context"
	"errors"
	"image"
)

var (
	ErrNoVideo           = errors.New("stream has no video track")
	ErrDimensionMismatch = errors.New("frames have different dimensions")
	ErrNoFrame           = errors.New("no frame received")
)

// Grabber opens frame sources.
type Grabber interface {
	Open(ctx context.Context, uri string) (Stream, error)
}

// Stream yields successive decoded frames of one source.
type Stream interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}
