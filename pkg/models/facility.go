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

package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	errInvalidID       = errors.New("id must be a JSON string or number")
	ErrMissingIdentity = errors.New("facility config is missing device identity")
)

// FlexibleID accepts either a JSON string or a JSON number and keeps its
// textual form.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, nullToken) {
		*f = ""

		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*f = FlexibleID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", errInvalidID, string(data))
	}

	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("%w: %s", errInvalidID, string(data))
	}

	*f = FlexibleID(n.String())

	return nil
}

func (f FlexibleID) String() string {
	return string(f)
}

// DeviceIdentity identifies this edge device to the control plane.
type DeviceIdentity struct {
	EdgeDeviceID string
	FacilityID   string
	MACAddress   string
}

// Camera is one stream configured for the facility.
type Camera struct {
	ID       FlexibleID `json:"id"`
	Name     string     `json:"name"`
	RTSPLink string     `json:"rtsp_link"`
}

// FacilityDevice is the "device" object of the facility configuration.
type FacilityDevice struct {
	ID         FlexibleID `json:"id"`
	FacilityID FlexibleID `json:"facilityId"`
	MACAddress string     `json:"macAddress"`
	Devices    []Camera   `json:"devices"`
}

// FacilityConfig is the document written at registration time and read by
// every edgeprobe binary on start-up.
type FacilityConfig struct {
	Device FacilityDevice `json:"device"`
}

// Identity extracts the device identity. Every field is required.
func (c *FacilityConfig) Identity() (DeviceIdentity, error) {
	id := DeviceIdentity{
		EdgeDeviceID: c.Device.ID.String(),
		FacilityID:   c.Device.FacilityID.String(),
		MACAddress:   c.Device.MACAddress,
	}

	switch {
	case id.EdgeDeviceID == "":
		return id, fmt.Errorf("%w: device.id", ErrMissingIdentity)
	case id.FacilityID == "":
		return id, fmt.Errorf("%w: device.facilityId", ErrMissingIdentity)
	case id.MACAddress == "":
		return id, fmt.Errorf("%w: device.macAddress", ErrMissingIdentity)
	}

	return id, nil
}

// StreamCameras returns the configured cameras that carry an RTSP link.
func (c *FacilityConfig) StreamCameras() []Camera {
	cameras := make([]Camera, 0, len(c.Device.Devices))

	for _, cam := range c.Device.Devices {
		if cam.RTSPLink != "" {
			cameras = append(cameras, cam)
		}
	}

	return cameras
}

// HostInfo is the inventory an edge device submits when it registers.
type HostInfo struct {
	Hostname      string `json:"hostname"`
	MACAddress    string `json:"macAddress"`
	Configuration string `json:"configuration"`
	IPAddress     string `json:"ipAddress"`
}
