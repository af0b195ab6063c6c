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

// Package probe defines the named checks an edge device can run on behalf of
// the control plane and the registry that resolves them by protocol name.
package probe

//go:generate mockgen -destination=mock_probe.go -package=probe github.com/carverauto/edgeprobe/pkg/probe Prober

import (
	"context"
	"errors"
)

var (
	ErrUnknownProtocol = errors.New("unknown protocol")
	errMissingTarget   = errors.New("target is required")
	errMissingStream   = errors.New("stream uri is required")
	errInvalidTarget   = errors.New("invalid target")
)

// Request carries the arguments of one probe invocation. Which fields are
// populated depends on the probe's Contract.
type Request struct {
	Target    string
	Secret    string `sensitive:"true"`
	StreamURI string `sensitive:"true"`
	Username  string
	Password  string `sensitive:"true"`
}

// Outcome is what a probe reports back. Payload is a string for most probes
// and a JSON object for discovery probes.
type Outcome struct {
	Success bool
	Payload any
}

func Succeeded(payload any) Outcome {
	return Outcome{Success: true, Payload: payload}
}

func Failed(payload any) Outcome {
	return Outcome{Success: false, Payload: payload}
}

// Prober runs a single check. A returned error is reported as a failed
// outcome carrying the error text.
type Prober interface {
	Probe(ctx context.Context, req Request) (Outcome, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, req Request) (Outcome, error)

func (f ProberFunc) Probe(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}
