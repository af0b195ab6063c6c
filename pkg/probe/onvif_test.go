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
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/edgeprobe/pkg/logger"
)

func TestONVIFProberReportsFailureText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p := NewONVIFProber(logger.NewTestLogger(), port, time.Second)

	out, err := p.Probe(context.Background(), Request{Target: host, Username: "admin", Password: "pw"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Payload, "authentication required")
}

func TestONVIFProberDefaultPort(t *testing.T) {
	p := NewONVIFProber(logger.NewTestLogger(), 0, 0)
	assert.Equal(t, 80, p.Port)

	_, err := p.Probe(context.Background(), Request{})
	require.ErrorIs(t, err, errMissingTarget)
}
