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
	"time"

	"github.com/carverauto/edgeprobe/pkg/frame"
	"github.com/carverauto/edgeprobe/pkg/logger"
)

// Protocol names understood by the control plane.
const (
	ProtocolPing          = "ping"
	ProtocolTraceroute    = "traceroute"
	ProtocolSNMP          = "snmp"
	ProtocolRTSP          = "rtsp"
	ProtocolHTTP          = "http"
	ProtocolFreeze        = "SQ_Freeze"
	ProtocolLongFreeze    = "SQ_LongFreeze"
	ProtocolBlind         = "SQ_Blind"
	ProtocolONVIFDiscover = "onvif_get_device_info_and_rtsp"
)

// Options configures the built-in probes. Zero values select defaults.
type Options struct {
	PingPath       string
	TraceroutePath string
	SNMP           SNMPConfig
	HTTPTimeout    time.Duration
	ONVIFPort      int
	ONVIFTimeout   time.Duration
	FreezeInterval time.Duration
	LongFreeze     time.Duration

	// Grabber and Checker override the ffmpeg and RTSP implementations.
	Grabber         frame.Grabber
	Checker         frame.Checker
	FFmpeg          frame.FFmpegConfig
	RTSPReadTimeout time.Duration
}

// NewDefaultRegistry wires every built-in protocol.
func NewDefaultRegistry(log logger.Logger, opts Options) *Registry {
	if opts.PingPath == "" {
		opts.PingPath = "ping"
	}

	if opts.TraceroutePath == "" {
		opts.TraceroutePath = "traceroute"
	}

	if opts.FreezeInterval <= 0 {
		opts.FreezeInterval = time.Second
	}

	if opts.LongFreeze <= 0 {
		opts.LongFreeze = 5 * time.Second
	}

	grabber := opts.Grabber
	if grabber == nil {
		grabber = frame.NewFFmpegGrabber(log, opts.FFmpeg)
	}

	checker := opts.Checker
	if checker == nil {
		checker = frame.NewRTSPChecker(log, opts.RTSPReadTimeout)
	}

	return NewRegistry(
		Handle{Name: ProtocolPing, Contract: ContractTarget, Prober: NewCommandProber(log, opts.PingPath, "-c", "4")},
		Handle{Name: ProtocolTraceroute, Contract: ContractTarget, Prober: NewCommandProber(log, opts.TraceroutePath)},
		Handle{Name: ProtocolSNMP, Contract: ContractTargetSecret, Prober: NewSNMPWalker(log, opts.SNMP)},
		Handle{Name: ProtocolRTSP, Contract: ContractStreamURI, Prober: NewRTSPProber(log, checker)},
		Handle{Name: ProtocolHTTP, Contract: ContractTargetCredentials, Prober: NewHTTPProber(log, opts.HTTPTimeout)},
		Handle{
			Name:     ProtocolFreeze,
			Contract: ContractStreamURI,
			Prober:   NewFreezeProber(log, grabber, opts.FreezeInterval, "frozen"),
		},
		Handle{
			Name:     ProtocolLongFreeze,
			Contract: ContractStreamURI,
			Prober:   NewFreezeProber(log, grabber, opts.LongFreeze, "long_frozen"),
		},
		Handle{Name: ProtocolBlind, Contract: ContractStreamURI, Prober: NewBlindProber(log, grabber)},
		Handle{
			Name:     ProtocolONVIFDiscover,
			Contract: ContractTargetCredentials,
			Prober:   NewONVIFProber(log, opts.ONVIFPort, opts.ONVIFTimeout),
		},
	)
}
