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

package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/edgeprobe/pkg/models"
)

var errHandshake = errors.New("websocket handshake failed")

// Conn is the part of *websocket.Conn the agent relies on.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens one control connection.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WebsocketDialer dials the control plane with gorilla/websocket.
type WebsocketDialer struct {
	dialer websocket.Dialer
}

func NewWebsocketDialer(handshakeTimeout time.Duration, tlsConfig *tls.Config) *WebsocketDialer {
	return &WebsocketDialer{
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			TLSClientConfig:  tlsConfig,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: %w", errHandshake, resp.Status, err)
		}

		return nil, err
	}

	return conn, nil
}

// ControlURL adds the device identity to the control plane URL.
func ControlURL(base string, id models.DeviceIdentity) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidControlURL, err)
	}

	q := u.Query()
	q.Set("facilityId", id.FacilityID)
	q.Set("isEdgeDevice", "true")
	q.Set("edgeDeviceId", id.EdgeDeviceID)
	q.Set("macAddress", id.MACAddress)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
