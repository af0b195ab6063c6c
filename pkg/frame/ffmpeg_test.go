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
	"context"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/edgeprobe/pkg/logger"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))

	return path
}

func fakeTools(t *testing.T, probeJSON string) FFmpegConfig {
	t.Helper()

	dir := t.TempDir()

	pngPath := filepath.Join(dir, "frame.png")
	f, err := os.Create(pngPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, solid(6, 4, color.RGBA{R: 1, G: 2, B: 3, A: 255})))
	require.NoError(t, f.Close())

	jsonPath := filepath.Join(dir, "probe.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(probeJSON), 0o600))

	return FFmpegConfig{
		FFprobePath: writeScript(t, dir, "ffprobe", "cat "+jsonPath+"\n"),
		FFmpegPath:  writeScript(t, dir, "ffmpeg", "echo \"$@\" > "+filepath.Join(dir, "args")+"\ncat "+pngPath+"\n"),
	}
}

func TestFFmpegGrabberReadsPNGFrames(t *testing.T) {
	cfg := fakeTools(t, `{"streams":[{"index":0,"codec_type":"audio"},{"index":1,"codec_type":"video","codec_name":"h264","width":6,"height":4}]}`)
	cfg.SocketTimeout = 2 * time.Second

	g := NewFFmpegGrabber(logger.NewTestLogger(), cfg)

	stream, err := g.Open(context.Background(), "rtsp://cam.local/live")
	require.NoError(t, err)

	defer func() { _ = stream.Close() }()

	img, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())

	args, err := os.ReadFile(filepath.Join(filepath.Dir(cfg.FFmpegPath), "args"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "-rtsp_transport tcp -timeout 2000000 -i rtsp://cam.local/live")
}

func TestFFmpegGrabberNoVideo(t *testing.T) {
	cfg := fakeTools(t, `{"streams":[{"index":0,"codec_type":"audio"}]}`)

	_, err := NewFFmpegGrabber(logger.NewTestLogger(), cfg).Open(context.Background(), "/tmp/clip.mp4")
	require.ErrorIs(t, err, ErrNoVideo)
}

func TestFFmpegGrabberProbeFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := FFmpegConfig{
		FFprobePath: writeScript(t, dir, "ffprobe", "exit 1\n"),
		FFmpegPath:  writeScript(t, dir, "ffmpeg", "exit 1\n"),
	}

	_, err := NewFFmpegGrabber(logger.NewTestLogger(), cfg).Open(context.Background(), "rtsp://cam.local/live")
	require.Error(t, err)
}

func TestFFmpegGrabberEmptyOutput(t *testing.T) {
	cfg := fakeTools(t, `{"streams":[{"codec_type":"video"}]}`)
	cfg.FFmpegPath = writeScript(t, t.TempDir(), "ffmpeg", "exit 0\n")

	stream, err := NewFFmpegGrabber(logger.NewTestLogger(), cfg).Open(context.Background(), "rtsp://cam.local/live")
	require.NoError(t, err)

	_, err = stream.Next(context.Background())
	require.ErrorIs(t, err, ErrNoFrame)
}

func TestInputArgsOnlyForRTSP(t *testing.T) {
	g := NewFFmpegGrabber(logger.NewTestLogger(), FFmpegConfig{})

	assert.Nil(t, g.inputArgs("http://cam.local/mjpeg"))
	assert.Equal(t, []string{"-rtsp_transport", "tcp"}, g.inputArgs("rtsp://cam.local/live"))
}
