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

// Package onvif is a minimal ONVIF client covering device identification
// and RTSP stream discovery.
package onvif

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort    = 80
	defaultTimeout = 10 * time.Second
	maxResponse    = 512 * 1024
	devicePath     = "/onvif/device_service"
)

var (
	ErrFault         = errors.New("onvif fault")
	ErrUnauthorized  = errors.New("onvif authentication required")
	ErrNoProfiles    = errors.New("device has no media profiles")
	errRequestFailed = errors.New("onvif request failed")
	errEmptyResponse = errors.New("empty onvif response")
)

const envelopeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
 xmlns:tds="http://www.onvif.org/ver10/device/wsdl"
 xmlns:trt="http://www.onvif.org/ver10/media/wsdl"
 xmlns:tt="http://www.onvif.org/ver10/schema">
 <s:Header>%s</s:Header>
 <s:Body>%s</s:Body>
</s:Envelope>`

// Config addresses one device.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks SOAP 1.2 to the device and media services of a camera.
type Client struct {
	deviceURL string
	username  string
	password  string
	http      *http.Client
	now       func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	host := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	return &Client{
		deviceURL: "http://" + host + devicePath,
		username:  cfg.Username,
		password:  cfg.Password,
		http:      &http.Client{Timeout: cfg.Timeout},
		now:       time.Now,
	}
}

type fault struct {
	Code   string `xml:"Code>Value"`
	Sub    string `xml:"Code>Subcode>Value"`
	Reason string `xml:"Reason>Text"`
}

type envelope[T any] struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault    *fault `xml:"Fault"`
		Response T      `xml:",any"`
	} `xml:"Body"`
}

// call posts body to endpoint and decodes the first element of the SOAP
// body into out.
func call[T any](ctx context.Context, c *Client, endpoint, body string, out *T) error {
	header, err := c.securityHeader()
	if err != nil {
		return err
	}

	payload := fmt.Sprintf(envelopeTemplate, header, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return err
	}

	raw = bytes.TrimSpace(raw)

	var (
		env       envelope[T]
		decodeErr error
	)

	if len(raw) > 0 {
		decodeErr = xml.Unmarshal(raw, &env)
		if decodeErr == nil && env.Body.Fault != nil {
			f := env.Body.Fault

			return fmt.Errorf("%w: %s %s: %s", ErrFault, f.Code, f.Sub, strings.TrimSpace(f.Reason))
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s", errRequestFailed, resp.Status)
	case len(raw) == 0:
		return errEmptyResponse
	case decodeErr != nil:
		return fmt.Errorf("decode onvif response: %w", decodeErr)
	}

	*out = env.Body.Response

	return nil
}

// DeviceInformation mirrors tds:GetDeviceInformationResponse.
type DeviceInformation struct {
	Manufacturer    string `xml:"Manufacturer" json:"Manufacturer"`
	Model           string `xml:"Model" json:"Model"`
	FirmwareVersion string `xml:"FirmwareVersion" json:"FirmwareVersion"`
	SerialNumber    string `xml:"SerialNumber" json:"SerialNumber"`
	HardwareID      string `xml:"HardwareId" json:"HardwareId"`
}

func (c *Client) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	var info DeviceInformation
	if err := call(ctx, c, c.deviceURL, `<tds:GetDeviceInformation/>`, &info); err != nil {
		return nil, fmt.Errorf("GetDeviceInformation: %w", err)
	}

	info.Manufacturer = strings.TrimSpace(info.Manufacturer)
	info.Model = strings.TrimSpace(info.Model)
	info.FirmwareVersion = strings.TrimSpace(info.FirmwareVersion)
	info.SerialNumber = strings.TrimSpace(info.SerialNumber)
	info.HardwareID = strings.TrimSpace(info.HardwareID)

	return &info, nil
}

type capabilities struct {
	MediaXAddr string `xml:"Capabilities>Media>XAddr"`
}

// MediaXAddr returns the media service endpoint, falling back to the device
// service when the camera does not advertise one.
func (c *Client) MediaXAddr(ctx context.Context) (string, error) {
	var caps capabilities

	err := call(ctx, c, c.deviceURL,
		`<tds:GetCapabilities><tds:Category>Media</tds:Category></tds:GetCapabilities>`, &caps)
	if err != nil {
		return "", fmt.Errorf("GetCapabilities: %w", err)
	}

	if addr := strings.TrimSpace(caps.MediaXAddr); addr != "" {
		return addr, nil
	}

	return c.deviceURL, nil
}

// Profile is a media profile advertised by the camera.
type Profile struct {
	Token string `xml:"token,attr"`
	Name  string `xml:"Name"`
}

type profiles struct {
	Profiles []Profile `xml:"Profiles"`
}

func (c *Client) GetProfiles(ctx context.Context, mediaURL string) ([]Profile, error) {
	var p profiles
	if err := call(ctx, c, mediaURL, `<trt:GetProfiles/>`, &p); err != nil {
		return nil, fmt.Errorf("GetProfiles: %w", err)
	}

	return p.Profiles, nil
}

type streamURI struct {
	URI string `xml:"MediaUri>Uri"`
}

// GetStreamURI asks for the unicast RTSP URI of profileToken.
func (c *Client) GetStreamURI(ctx context.Context, mediaURL, profileToken string) (string, error) {
	var token bytes.Buffer
	if err := xml.EscapeText(&token, []byte(profileToken)); err != nil {
		return "", err
	}

	body := `<trt:GetStreamUri>` +
		`<trt:StreamSetup><tt:Stream>RTP-Unicast</tt:Stream>` +
		`<tt:Transport><tt:Protocol>RTSP</tt:Protocol></tt:Transport></trt:StreamSetup>` +
		`<trt:ProfileToken>` + token.String() + `</trt:ProfileToken>` +
		`</trt:GetStreamUri>`

	var out streamURI
	if err := call(ctx, c, mediaURL, body, &out); err != nil {
		return "", fmt.Errorf("GetStreamUri: %w", err)
	}

	return strings.TrimSpace(out.URI), nil
}

// Discovery is the identification of a camera and its primary stream.
type Discovery struct {
	DeviceInfo DeviceInformation `json:"device_info"`
	RTSPURL    string            `json:"rtsp_url"`
}

// Discover reads the device information and the stream URI of the first
// media profile.
func (c *Client) Discover(ctx context.Context) (*Discovery, error) {
	info, err := c.GetDeviceInformation(ctx)
	if err != nil {
		return nil, err
	}

	mediaURL, err := c.MediaXAddr(ctx)
	if err != nil {
		return nil, err
	}

	profs, err := c.GetProfiles(ctx, mediaURL)
	if err != nil {
		return nil, err
	}

	if len(profs) == 0 {
		return nil, ErrNoProfiles
	}

	uri, err := c.GetStreamURI(ctx, mediaURL, profs[0].Token)
	if err != nil {
		return nil, err
	}

	return &Discovery{DeviceInfo: *info, RTSPURL: uri}, nil
}
