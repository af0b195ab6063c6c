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
	"time"

	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/onvif"
)

// ONVIFProber identifies a camera and discovers its primary RTSP stream.
type ONVIFProber struct {
	Port    int
	Timeout time.Duration
	logger  logger.Logger
}

func NewONVIFProber(log logger.Logger, port int, timeout time.Duration) *ONVIFProber {
	if port == 0 {
		port = onvif.DefaultPort
	}

	return &ONVIFProber{Port: port, Timeout: timeout, logger: log}
}

func (p *ONVIFProber) Probe(ctx context.Context, req Request) (Outcome, error) {
	if req.Target == "" {
		return Outcome{}, errMissingTarget
	}

	client := onvif.NewClient(onvif.Config{
		Host:     req.Target,
		Port:     p.Port,
		Username: req.Username,
		Password: req.Password,
		Timeout:  p.Timeout,
	})

	d, err := client.Discover(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Str("target", req.Target).Msg("ONVIF discovery failed")

		return Failed(err.Error()), nil
	}

	p.logger.Debug().
		Str("target", req.Target).
		Str("manufacturer", d.DeviceInfo.Manufacturer).
		Str("model", d.DeviceInfo.Model).
		Msg("ONVIF discovery succeeded")

	return Succeeded(d), nil
}
