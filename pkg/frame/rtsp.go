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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/base"
	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"

	"github.com/carverauto/edgeprobe/pkg/logger"
)

const defaultRTSPReadTimeout = 10 * time.Second

var errNotRTSP = errors.New("not an rtsp url")

// StreamState is the availability of a camera stream.
type StreamState int

const (
	// StreamUnreachable means the session could not be opened.
	StreamUnreachable StreamState = iota
	// StreamOffline means the session opened but no picture arrived.
	StreamOffline
	// StreamOnline means a complete picture was received.
	StreamOnline
)

func (s StreamState) String() string {
	switch s {
	case StreamOnline:
		return "online"
	case StreamOffline:
		return "offline"
	default:
		return "unreachable"
	}
}

// Checker reports whether a stream delivers pictures.
type Checker interface {
	Check(ctx context.Context, uri string) (StreamState, error)
}

// RTSPChecker opens an RTSP session and waits for the first complete video
// picture.
type RTSPChecker struct {
	ReadTimeout time.Duration
	logger      logger.Logger
}

func NewRTSPChecker(log logger.Logger, readTimeout time.Duration) *RTSPChecker {
	if readTimeout <= 0 {
		readTimeout = defaultRTSPReadTimeout
	}

	return &RTSPChecker{ReadTimeout: readTimeout, logger: log}
}

// Check returns StreamUnreachable with the cause when the session cannot be
// set up, StreamOffline when no picture arrives within ReadTimeout, and
// StreamOnline otherwise.
func (r *RTSPChecker) Check(ctx context.Context, uri string) (StreamState, error) {
	u, err := base.ParseURL(uri)
	if err != nil {
		return StreamUnreachable, fmt.Errorf("%w: %w", errNotRTSP, err)
	}

	c := gortsplib.Client{
		Scheme:      u.Scheme,
		Host:        u.Host,
		ReadTimeout: r.ReadTimeout,
	}

	if err = c.Start(); err != nil {
		return StreamUnreachable, err
	}
	defer c.Close()

	desc, _, err := c.Describe(u)
	if err != nil {
		return StreamUnreachable, err
	}

	var video []*description.Media

	for _, medi := range desc.Medias {
		if medi.Type == description.MediaTypeVideo {
			video = append(video, medi)
		}
	}

	if len(video) == 0 {
		return StreamUnreachable, ErrNoVideo
	}

	if err = c.SetupAll(desc.BaseURL, video); err != nil {
		return StreamUnreachable, err
	}

	got := make(chan struct{})

	var (
		once sync.Once
		asm  pictureTracker
	)

	c.OnPacketRTPAny(func(medi *description.Media, forma format.Format, pkt *rtp.Packet) {
		if medi.Type != description.MediaTypeVideo {
			return
		}

		if asm.push(forma, pkt) {
			once.Do(func() { close(got) })
		}
	})

	if _, err = c.Play(nil); err != nil {
		return StreamUnreachable, err
	}

	waitErr := make(chan error, 1)

	go func() { waitErr <- c.Wait() }()

	timer := time.NewTimer(r.ReadTimeout)
	defer timer.Stop()

	select {
	case <-got:
		r.logger.Debug().Str("host", u.Host).Msg("Received first video picture")

		return StreamOnline, nil
	case err = <-waitErr:
		return StreamOffline, err
	case <-timer.C:
		return StreamOffline, ErrNoFrame
	case <-ctx.Done():
		return StreamOffline, ctx.Err()
	}
}

// pictureTracker decides when a complete picture has been received. For
// H.264 the access unit must carry slice data; other codecs only need the
// RTP marker bit.
type pictureTracker struct {
	mu       sync.Mutex
	sawSlice bool
}

func (t *pictureTracker) push(forma format.Format, pkt *rtp.Packet) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := forma.(*format.H264); !ok {
		return pkt.Marker
	}

	switch naluType(pkt.Payload) {
	case h264.NALUTypeIDR, h264.NALUTypeNonIDR:
		t.sawSlice = true
	}

	if !pkt.Marker {
		return false
	}

	complete := t.sawSlice
	t.sawSlice = false

	return complete
}

// naluType returns the type of the NAL unit carried in an H.264 RTP
// payload, looking through FU-A fragments and STAP-A aggregates.
func naluType(payload []byte) h264.NALUType {
	if len(payload) == 0 {
		return 0
	}

	typ := h264.NALUType(payload[0] & 0x1F)

	switch typ {
	case h264.NALUTypeFUA:
		if len(payload) < 2 {
			return 0
		}

		return h264.NALUType(payload[1] & 0x1F)
	case h264.NALUTypeSTAPA:
		var last h264.NALUType

		// Each aggregated unit is a 16-bit size followed by the NAL unit.
		for buf := payload[1:]; len(buf) > 2; {
			size := int(buf[0])<<8 | int(buf[1])
			buf = buf[2:]

			if size == 0 || size > len(buf) {
				break
			}

			if t := h264.NALUType(buf[0] & 0x1F); t == h264.NALUTypeIDR || t == h264.NALUTypeNonIDR {
				last = t
			}

			buf = buf[size:]
		}

		return last
	default:
		return typ
	}
}
