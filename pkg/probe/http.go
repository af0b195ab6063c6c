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
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/carverauto/edgeprobe/pkg/logger"
)

const defaultHTTPTimeout = 5 * time.Second

// HTTPProber fetches the device's web root. Any status below 400 counts as
// reachable.
type HTTPProber struct {
	client *http.Client
	logger logger.Logger
}

func NewHTTPProber(log logger.Logger, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
		logger: log,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, req Request) (Outcome, error) {
	if req.Target == "" {
		return Outcome{}, errMissingTarget
	}

	target := "http://" + req.Target

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return Outcome{}, err
	}

	if req.Username != "" && req.Password != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}

		p.logger.Debug().Err(err).Str("target", req.Target).Msg("HTTP probe failed")

		return Failed(err.Error()), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return Failed(fmt.Sprintf("HTTP Error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))), nil
	}

	p.logger.Debug().Int("status", resp.StatusCode).Str("target", req.Target).Msg("HTTP probe succeeded")

	return Succeeded(fmt.Sprintf("HTTP status: %d", resp.StatusCode)), nil
}
