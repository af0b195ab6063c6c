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
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/edgeprobe/pkg/frame"
	"github.com/carverauto/edgeprobe/pkg/logger"
)

var errStream = errors.New("stream closed by peer")

func solidFrame(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}

	return img
}

func noisyFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*37 + y*91) % 256)
			img.SetRGBA(x, y, color.RGBA{R: v, G: 255 - v, B: v / 2, A: 255})
		}
	}

	return img
}

const testURI = "rtsp://u:p@cam/live"

func expectFrames(ctrl *gomock.Controller, frames ...image.Image) *frame.MockGrabber {
	grabber := frame.NewMockGrabber(ctrl)
	stream := frame.NewMockStream(ctrl)

	grabber.EXPECT().Open(gomock.Any(), testURI).Return(stream, nil)

	calls := make([]any, 0, len(frames))
	for _, f := range frames {
		calls = append(calls, stream.EXPECT().Next(gomock.Any()).Return(f, nil))
	}

	gomock.InOrder(calls...)
	stream.EXPECT().Close().Return(nil)

	return grabber
}

func TestFreezeProberIdenticalFramesAreFrozen(t *testing.T) {
	ctrl := gomock.NewController(t)
	g := expectFrames(ctrl, noisyFrame(16, 9), noisyFrame(16, 9))

	p := NewFreezeProber(logger.NewTestLogger(), g, time.Millisecond, "frozen")

	out, err := p.Probe(context.Background(), Request{StreamURI: testURI})
	require.NoError(t, err)
	assert.Equal(t, Failed("frozen"), out)
}

func TestLongFreezeLabel(t *testing.T) {
	ctrl := gomock.NewController(t)
	g := expectFrames(ctrl, solidFrame(8, 8, 90), solidFrame(8, 8, 90))

	p := NewFreezeProber(logger.NewTestLogger(), g, time.Millisecond, "long_frozen")

	out, err := p.Probe(context.Background(), Request{StreamURI: testURI})
	require.NoError(t, err)
	assert.Equal(t, Failed("long_frozen"), out)
}

func TestFreezeProberChangedFramesAreNormal(t *testing.T) {
	ctrl := gomock.NewController(t)
	g := expectFrames(ctrl, solidFrame(16, 9, 10), noisyFrame(16, 9))

	p := NewFreezeProber(logger.NewTestLogger(), g, time.Millisecond, "frozen")

	out, err := p.Probe(context.Background(), Request{StreamURI: testURI})
	require.NoError(t, err)
	assert.Equal(t, Succeeded("normal"), out)
}

func TestFreezeProberDimensionMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	g := expectFrames(ctrl, solidFrame(16, 9, 10), solidFrame(8, 8, 10))

	out, err := NewFreezeProber(logger.NewTestLogger(), g, time.Millisecond, "").
		Probe(context.Background(), Request{StreamURI: testURI})
	require.NoError(t, err)
	assert.Equal(t, Failed("Frames have different dimensions"), out)
}

func TestFreezeProberFailures(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		g := frame.NewMockGrabber(ctrl)
		g.EXPECT().Open(gomock.Any(), testURI).Return(nil, errStream)

		out, err := NewFreezeProber(logger.NewTestLogger(), g, time.Millisecond, "").
			Probe(context.Background(), Request{StreamURI: testURI})
		require.NoError(t, err)
		assert.Equal(t, Failed("Failed to open RTSP stream"), out)
	})

	t.Run("first frame", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		g := frame.NewMockGrabber(ctrl)
		s := frame.NewMockStream(ctrl)
		g.EXPECT().Open(gomock.Any(), testURI).Return(s, nil)
		s.EXPECT().Next(gomock.Any()).Return(nil, errStream)
		s.EXPECT().Close().Return(nil)

		out, err := NewFreezeProber(logger.NewTestLogger(), g, time.Millisecond, "").
			Probe(context.Background(), Request{StreamURI: testURI})
		require.NoError(t, err)
		assert.Equal(t, Failed("Failed to read first frame"), out)
	})

	t.Run("second frame", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		g := frame.NewMockGrabber(ctrl)
		s := frame.NewMockStream(ctrl)
		g.EXPECT().Open(gomock.Any(), testURI).Return(s, nil)
		gomock.InOrder(
			s.EXPECT().Next(gomock.Any()).Return(noisyFrame(4, 4), nil),
			s.EXPECT().Next(gomock.Any()).Return(nil, errStream),
		)
		s.EXPECT().Close().Return(nil)

		out, err := NewFreezeProber(logger.NewTestLogger(), g, time.Millisecond, "").
			Probe(context.Background(), Request{StreamURI: testURI})
		require.NoError(t, err)
		assert.Equal(t, Failed("Failed to read second frame"), out)
	})
}

func TestFreezeProberCancelledDuringSleep(t *testing.T) {
	ctrl := gomock.NewController(t)
	g := frame.NewMockGrabber(ctrl)
	s := frame.NewMockStream(ctrl)
	g.EXPECT().Open(gomock.Any(), testURI).Return(s, nil)
	s.EXPECT().Next(gomock.Any()).Return(noisyFrame(4, 4), nil)
	s.EXPECT().Close().Return(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewFreezeProber(logger.NewTestLogger(), g, time.Hour, "").Probe(ctx, Request{StreamURI: testURI})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBlindProber(t *testing.T) {
	t.Run("blinded", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		g := expectFrames(ctrl, solidFrame(32, 18, 12))

		out, err := NewBlindProber(logger.NewTestLogger(), g).Probe(context.Background(), Request{StreamURI: testURI})
		require.NoError(t, err)
		assert.Equal(t, Failed("blinded"), out)
	})

	t.Run("normal", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		g := expectFrames(ctrl, noisyFrame(32, 18))

		out, err := NewBlindProber(logger.NewTestLogger(), g).Probe(context.Background(), Request{StreamURI: testURI})
		require.NoError(t, err)
		assert.Equal(t, Succeeded("normal"), out)
	})

	t.Run("read failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		g := frame.NewMockGrabber(ctrl)
		s := frame.NewMockStream(ctrl)
		g.EXPECT().Open(gomock.Any(), testURI).Return(s, nil)
		s.EXPECT().Next(gomock.Any()).Return(nil, errStream)
		s.EXPECT().Close().Return(nil)

		out, err := NewBlindProber(logger.NewTestLogger(), g).Probe(context.Background(), Request{StreamURI: testURI})
		require.NoError(t, err)
		assert.Equal(t, Failed("Failed to read frame"), out)
	})

	t.Run("missing uri", func(t *testing.T) {
		_, err := NewBlindProber(logger.NewTestLogger(), nil).Probe(context.Background(), Request{})
		require.ErrorIs(t, err, errMissingStream)
	})
}

func TestRTSPProber(t *testing.T) {
	tests := []struct {
		state frame.StreamState
		err   error
		want  Outcome
	}{
		{frame.StreamOnline, nil, Succeeded("online")},
		{frame.StreamOffline, frame.ErrNoFrame, Failed("offline")},
		{frame.StreamUnreachable, errStream, Failed("Failed to open RTSP stream")},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := frame.NewMockChecker(ctrl)
			c.EXPECT().Check(gomock.Any(), testURI).Return(tt.state, tt.err)

			out, err := NewRTSPProber(logger.NewTestLogger(), c).Probe(context.Background(), Request{StreamURI: testURI})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}
