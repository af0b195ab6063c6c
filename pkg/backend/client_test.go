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

package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		RegisterURL:   srv.URL + "/api/register-edgedevice",
		DevicesURL:    srv.URL + "/api/devices",
		FacilitiesURL: srv.URL + "/api/facilities",
		SnapshotURL:   srv.URL + "/api/snapshot",
	}, srv.Client(), logger.NewTestLogger())
	require.NoError(t, err)

	return client
}

func TestRegisterEdgeDeviceReturnsRawBody(t *testing.T) {
	const facility = `{"device":{"id":12,"facilityId":"f-1","macAddress":"aa:bb","devices":[]}}`

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/register-edgedevice", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var info models.HostInfo
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&info))
		assert.Equal(t, "edge-host", info.Hostname)
		assert.Equal(t, "aa:bb", info.MACAddress)

		_, _ = io.WriteString(w, facility)
	}))

	body, err := client.RegisterEdgeDevice(context.Background(), models.HostInfo{
		Hostname:   "edge-host",
		MACAddress: "aa:bb",
		IPAddress:  "10.0.0.5",
	})
	require.NoError(t, err)
	assert.Equal(t, facility, string(body))
}

func TestRegisterEdgeDeviceRejectsNonOK(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "created elsewhere")
	}))

	_, err := client.RegisterEdgeDevice(context.Background(), models.HostInfo{})
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "201: created elsewhere")
}

func TestUpdateDeviceStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/devices/cam-4", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"status":"offline"}`, string(body))

		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.UpdateDeviceStatus(context.Background(), "cam-4", "offline"))
	require.ErrorIs(t, client.UpdateDeviceStatus(context.Background(), "", "online"), errMissingDeviceID)
}

func TestFacilityCamerasFiltersIncompleteDevices(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/facilities", r.URL.Path)
		assert.Equal(t, "f-9", r.URL.Query().Get("facilityId"))

		_, _ = io.WriteString(w, `{"zones":[
			{"devices":[{"id":1,"name":"gate","rtsp_link":"rtsp://10.0.0.1/s"},{"id":2,"name":"no link"}]},
			{"devices":[{"name":"no id","rtsp_link":"rtsp://10.0.0.3/s"},{"id":"cam-4","rtsp_link":"rtsp://10.0.0.4/s"}]}
		]}`)
	}))

	cameras, err := client.FacilityCameras(context.Background(), "f-9")
	require.NoError(t, err)
	require.Len(t, cameras, 2)

	assert.Equal(t, models.FlexibleID("1"), cameras[0].ID)
	assert.Equal(t, "gate", cameras[0].Name)
	assert.Equal(t, models.FlexibleID("cam-4"), cameras[1].ID)
}

func TestUploadSnapshotSendsMultipartForm(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "cam-4", r.URL.Query().Get("deviceId"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		assert.Equal(t, "cam-4", r.FormValue("deviceId"))
		assert.Equal(t, "true", r.FormValue("isEdgeDevice"))
		assert.Equal(t, "snapshot", r.FormValue("type"))

		file, header, err := r.FormFile("snapshot")
		if assert.NoError(t, err) {
			defer file.Close()

			assert.Equal(t, "snapshot.jpg", header.Filename)
			assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

			got, _ := io.ReadAll(file)
			assert.Equal(t, jpeg, got)
		}
	}))

	require.NoError(t, client.UploadSnapshot(context.Background(), "cam-4", jpeg))
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	var cfg Config

	cfg.ApplyDefaults()
	assert.Equal(t, DefaultRegisterURL, cfg.RegisterURL)
	assert.Equal(t, DefaultSnapshotURL, cfg.SnapshotURL)
	require.NoError(t, cfg.Validate())

	cfg.DevicesURL = "ftp://example.com/devices"
	require.ErrorIs(t, cfg.Validate(), errInvalidEndpoint)
}
