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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/edgeprobe/pkg/logger"
)

const (
	defaultFFmpegPath  = "ffmpeg"
	defaultFFprobePath = "ffprobe"
)

// FFmpegConfig locates the ffmpeg tools and bounds their network I/O.
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	// SocketTimeout is passed to the rtsp demuxer; zero leaves the tool's
	// default in place.
	SocketTimeout time.Duration
}

// FFmpegGrabber decodes frames by running ffprobe and ffmpeg as
// subprocesses. Each frame is transferred as a PNG over stdout.
type FFmpegGrabber struct {
	config FFmpegConfig
	logger logger.Logger
}

func NewFFmpegGrabber(log logger.Logger, cfg FFmpegConfig) *FFmpegGrabber {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = defaultFFmpegPath
	}

	if cfg.FFprobePath == "" {
		cfg.FFprobePath = defaultFFprobePath
	}

	return &FFmpegGrabber{config: cfg, logger: log}
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// inputArgs returns the demuxer options that precede -i for uri.
func (g *FFmpegGrabber) inputArgs(uri string) []string {
	if !strings.HasPrefix(uri, "rtsp://") && !strings.HasPrefix(uri, "rtsps://") {
		return nil
	}

	args := []string{"-rtsp_transport", "tcp"}

	if g.config.SocketTimeout > 0 {
		args = append(args, "-timeout", strconv.FormatInt(g.config.SocketTimeout.Microseconds(), 10))
	}

	return args
}

// Open checks that uri carries a video stream.
func (g *FFmpegGrabber) Open(ctx context.Context, uri string) (Stream, error) {
	args := []string{"-v", "quiet", "-print_format", "json", "-show_streams"}
	args = append(args, g.inputArgs(uri)...)
	args = append(args, uri)

	out, err := exec.CommandContext(ctx, g.config.FFprobePath, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	for _, s := range probed.Streams {
		if s.CodecType == "video" {
			g.logger.Debug().
				Str("codec", s.CodecName).
				Int("width", s.Width).
				Int("height", s.Height).
				Msg("Opened video stream")

			return &ffmpegStream{grabber: g, uri: uri}, nil
		}
	}

	return nil, ErrNoVideo
}

type ffmpegStream struct {
	grabber *FFmpegGrabber
	uri     string
}

// Next decodes one frame from the live stream.
func (s *ffmpegStream) Next(ctx context.Context) (image.Image, error) {
	args := []string{"-nostdin", "-loglevel", "error"}
	args = append(args, s.grabber.inputArgs(s.uri)...)
	args = append(args, "-i", s.uri, "-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-")

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, s.grabber.config.FFmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	if stdout.Len() == 0 {
		return nil, ErrNoFrame
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	return img, nil
}

func (*ffmpegStream) Close() error {
	return nil
}
