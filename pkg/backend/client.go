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

// Package backend is a client for the vision analytics REST API used by the
// provisioning and camera maintenance tools.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/carverauto/edgeprobe/pkg/config"
	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/models"
)

const (
	DefaultRegisterURL   = "https://visionanalytics.prod.squirrelvision.ai/api/register-edgedevice"
	DefaultDevicesURL    = "https://visionanalytics.prod.squirrelvision.ai/api/devices"
	DefaultFacilitiesURL = "http://10.3.158.111:3000/api/facilities"
	DefaultSnapshotURL   = "http://10.3.158.111:3000/api/snapshot"

	defaultHTTPTimeout = 30 * time.Second
	errorBodyLimit     = 2048
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	errMissingDeviceID  = errors.New("device id is required")
	errInvalidEndpoint  = errors.New("endpoint must be an http or https URL")
)

// Config points the client at the backend endpoints.
type Config struct {
	RegisterURL   string            `json:"register_url"`
	DevicesURL    string            `json:"devices_url"`
	FacilitiesURL string            `json:"facilities_url"`
	SnapshotURL   string            `json:"snapshot_url"`
	Timeout       config.Duration   `json:"timeout"`
	TLS           *config.TLSConfig `json:"tls,omitempty"`
}

func (c *Config) ApplyDefaults() {
	if c.RegisterURL == "" {
		c.RegisterURL = DefaultRegisterURL
	}

	if c.DevicesURL == "" {
		c.DevicesURL = DefaultDevicesURL
	}

	if c.FacilitiesURL == "" {
		c.FacilitiesURL = DefaultFacilitiesURL
	}

	if c.SnapshotURL == "" {
		c.SnapshotURL = DefaultSnapshotURL
	}

	if c.Timeout <= 0 {
		c.Timeout = config.Duration(defaultHTTPTimeout)
	}
}

func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"register_url":   c.RegisterURL,
		"devices_url":    c.DevicesURL,
		"facilities_url": c.FacilitiesURL,
		"snapshot_url":   c.SnapshotURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s %q", errInvalidEndpoint, name, raw)
		}
	}

	if c.TLS != nil {
		return c.TLS.Validate()
	}

	return nil
}

// Client talks to the backend over HTTP.
type Client struct {
	config Config
	http   *http.Client
	logger logger.Logger
}

// NewClient builds a client. A nil httpClient gets one with the configured
// timeout and TLS settings.
func NewClient(cfg Config, httpClient *http.Client, log logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()

	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()

		if cfg.TLS != nil {
			tlsConfig, err := cfg.TLS.ClientConfig()
			if err != nil {
				return nil, err
			}

			transport.TLSClientConfig = tlsConfig
		}

		httpClient = &http.Client{Timeout: cfg.Timeout.Std(), Transport: transport}
	}

	return &Client{config: cfg, http: httpClient, logger: log}, nil
}

// RegisterEdgeDevice posts the host inventory and returns the raw response
// body, which is the facility configuration for this device.
func (c *Client) RegisterEdgeDevice(ctx context.Context, info models.HostInfo) ([]byte, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.config.RegisterURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("register edge device: %w", err)
	}

	c.logger.Info().Str("hostname", info.Hostname).Str("mac", info.MACAddress).Msg("Edge device registered")

	return body, nil
}

// UpdateDeviceStatus reports a camera as online or offline.
func (c *Client) UpdateDeviceStatus(ctx context.Context, deviceID, status string) error {
	if deviceID == "" {
		return errMissingDeviceID
	}

	payload, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return err
	}

	endpoint := strings.TrimSuffix(c.config.DevicesURL, "/") + "/" + url.PathEscape(deviceID)

	if _, err := c.do(ctx, http.MethodPut, endpoint, "application/json", bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("update device %s: %w", deviceID, err)
	}

	c.logger.Info().Str("device_id", deviceID).Str("status", status).Msg("Updated device status")

	return nil
}

type facilityResponse struct {
	Zones []struct {
		Devices []models.Camera `json:"devices"`
	} `json:"zones"`
}

// FacilityCameras lists the cameras of every zone that have both an id and
// an RTSP link.
func (c *Client) FacilityCameras(ctx context.Context, facilityID string) ([]models.Camera, error) {
	endpoint, err := withQuery(c.config.FacilitiesURL, "facilityId", facilityID)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch facility %s: %w", facilityID, err)
	}

	var decoded facilityResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode facility response: %w", err)
	}

	var cameras []models.Camera

	for _, zone := range decoded.Zones {
		for _, cam := range zone.Devices {
			if cam.ID != "" && cam.RTSPLink != "" {
				cameras = append(cameras, cam)
			}
		}
	}

	c.logger.Debug().Str("facility_id", facilityID).Int("cameras", len(cameras)).Msg("Fetched facility cameras")

	return cameras, nil
}

// UploadSnapshot sends a JPEG still of deviceID as a multipart form.
func (c *Client) UploadSnapshot(ctx context.Context, deviceID string, jpeg []byte) error {
	if deviceID == "" {
		return errMissingDeviceID
	}

	endpoint, err := withQuery(c.config.SnapshotURL, "deviceId", deviceID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="snapshot"; filename="snapshot.jpg"`)
	header.Set("Content-Type", "image/jpeg")

	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}

	if _, err := part.Write(jpeg); err != nil {
		return err
	}

	fields := [][2]string{{"deviceId", deviceID}, {"isEdgeDevice", "true"}, {"type", "snapshot"}}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	if err := w.Close(); err != nil {
		return err
	}

	if _, err := c.do(ctx, http.MethodPost, endpoint, w.FormDataContentType(), &buf); err != nil {
		return fmt.Errorf("upload snapshot for %s: %w", deviceID, err)
	}

	c.logger.Info().Str("device_id", deviceID).Int("bytes", len(jpeg)).Msg("Snapshot uploaded")

	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return data, nil
}

func withQuery(base, key, value string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", base, err)
	}

	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
