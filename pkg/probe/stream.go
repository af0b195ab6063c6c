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

package probe

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/carverauto/edgeprobe/pkg/frame"
	"github.com/carverauto/edgeprobe/pkg/logger"
)

const (
	msgOpenFailed       = "Failed to open RTSP stream"
	msgFirstFrame       = "Failed to read first frame"
	msgSecondFrame      = "Failed to read second frame"
	msgFrameFailed      = "Failed to read frame"
	msgDimensions       = "Frames have different dimensions"
	msgNormal           = "normal"
	msgBlinded          = "blinded"
	msgOnline           = "online"
	msgOffline          = "offline"
	defaultFreezeLabel  = "frozen"
	defaultFreezeSample = time.Second
)

// FreezeProber samples two frames Interval apart and fails with Label when
// they are practically identical.
type FreezeProber struct {
	Grabber  frame.Grabber
	Interval time.Duration
	Label    string
	logger   logger.Logger
}

func NewFreezeProber(log logger.Logger, g frame.Grabber, interval time.Duration, label string) *FreezeProber {
	if interval <= 0 {
		interval = defaultFreezeSample
	}

	if label == "" {
		label = defaultFreezeLabel
	}

	return &FreezeProber{Grabber: g, Interval: interval, Label: label, logger: log}
}

func (p *FreezeProber) Probe(ctx context.Context, req Request) (Outcome, error) {
	if req.StreamURI == "" {
		return Outcome{}, errMissingStream
	}

	stream, err := p.Grabber.Open(ctx, req.StreamURI)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Stream open failed")

		return Failed(msgOpenFailed), nil
	}
	defer func() { _ = stream.Close() }()

	first, err := stream.Next(ctx)
	if err != nil {
		return Failed(msgFirstFrame), nil
	}

	if err := sleep(ctx, p.Interval); err != nil {
		return Outcome{}, err
	}

	second, err := stream.Next(ctx)
	if err != nil {
		return Failed(msgSecondFrame), nil
	}

	frozen, err := frame.IsFrozen(first, second)
	if errors.Is(err, frame.ErrDimensionMismatch) {
		return Failed(msgDimensions), nil
	}

	if err != nil {
		return Outcome{}, err
	}

	if frozen {
		p.logger.Info().Str("label", p.Label).Msg("Stream freeze detected")

		return Failed(p.Label), nil
	}

	return Succeeded(msgNormal), nil
}

// BlindProber fails when a single frame is dark and featureless.
type BlindProber struct {
	Grabber frame.Grabber
	logger  logger.Logger
}

func NewBlindProber(log logger.Logger, g frame.Grabber) *BlindProber {
	return &BlindProber{Grabber: g, logger: log}
}

func (p *BlindProber) Probe(ctx context.Context, req Request) (Outcome, error) {
	if req.StreamURI == "" {
		return Outcome{}, errMissingStream
	}

	img, outcome, ok := grabOne(ctx, p.Grabber, req.StreamURI)
	if !ok {
		return outcome, nil
	}

	if frame.IsBlinded(img) {
		p.logger.Info().Msg("Stream blinding detected")

		return Failed(msgBlinded), nil
	}

	return Succeeded(msgNormal), nil
}

func grabOne(ctx context.Context, g frame.Grabber, uri string) (image.Image, Outcome, bool) {
	stream, err := g.Open(ctx, uri)
	if err != nil {
		return nil, Failed(msgOpenFailed), false
	}
	defer func() { _ = stream.Close() }()

	img, err := stream.Next(ctx)
	if err != nil {
		return nil, Failed(msgFrameFailed), false
	}

	return img, Outcome{}, true
}

// RTSPProber reports whether the stream delivers pictures.
type RTSPProber struct {
	Checker frame.Checker
	logger  logger.Logger
}

func NewRTSPProber(log logger.Logger, c frame.Checker) *RTSPProber {
	return &RTSPProber{Checker: c, logger: log}
}

func (p *RTSPProber) Probe(ctx context.Context, req Request) (Outcome, error) {
	if req.StreamURI == "" {
		return Outcome{}, errMissingStream
	}

	state, err := p.Checker.Check(ctx, req.StreamURI)
	if err != nil {
		p.logger.Debug().Err(err).Str("state", state.String()).Msg("RTSP check did not succeed")
	}

	switch state {
	case frame.StreamOnline:
		return Succeeded(msgOnline), nil
	case frame.StreamOffline:
		return Failed(msgOffline), nil
	default:
		return Failed(msgOpenFailed), nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
