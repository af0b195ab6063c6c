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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/models"
)

var errNameRequired = errors.New("name required")

type nestedSection struct {
	Timeout Duration `json:"timeout"`
	Retries int      `json:"retries"`
}

type sampleConfig struct {
	Name    string         `json:"name"`
	Workers int            `json:"workers"`
	Debug   bool           `json:"debug"`
	Tags    []string       `json:"tags"`
	Delay   time.Duration  `json:"delay"`
	SNMP    nestedSection  `json:"snmp"`
	Mirror  *nestedSection `json:"mirror"`

	defaulted bool
}

func (s *sampleConfig) ApplyDefaults() {
	s.defaulted = true

	if s.Workers == 0 {
		s.Workers = 20
	}
}

func (s *sampleConfig) Validate() error {
	if s.Name == "" {
		return errNameRequired
	}

	return nil
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadAndValidateFromFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeFile(t, "agent.json", `{"name":"edge","snmp":{"timeout":"3s","retries":2}}`)

	var cfg sampleConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "edge", cfg.Name)
	assert.Equal(t, 20, cfg.Workers)
	assert.True(t, cfg.defaulted)
	assert.Equal(t, 3*time.Second, cfg.SNMP.Timeout.Std())
	assert.Equal(t, 2, cfg.SNMP.Retries)
}

func TestLoadAndValidateRunsValidator(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	path := writeFile(t, "agent.json", `{"workers":4}`)

	var cfg sampleConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	require.ErrorIs(t, err, errNameRequired)
}

func TestLoadAndValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "kv")

	var cfg sampleConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), "unused", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "")
	t.Setenv("EDGEPROBE_NAME", "from-env")
	t.Setenv("EDGEPROBE_WORKERS", "7")
	t.Setenv("EDGEPROBE_DEBUG", "true")
	t.Setenv("EDGEPROBE_TAGS", "a, b")
	t.Setenv("EDGEPROBE_DELAY", "250ms")
	t.Setenv("EDGEPROBE_SNMP_TIMEOUT", "4s")
	t.Setenv("EDGEPROBE_SNMP_RETRIES", "not-a-number")

	var cfg sampleConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, 7, cfg.Workers)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
	assert.Equal(t, 250*time.Millisecond, cfg.Delay)
	assert.Equal(t, 4*time.Second, cfg.SNMP.Timeout.Std())
	assert.Zero(t, cfg.SNMP.Retries)
	assert.Nil(t, cfg.Mirror, "optional section without variables stays nil")
}

func TestLoadFromEnvironmentAllocatesNamedSection(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "")
	t.Setenv("EDGEPROBE_NAME", "edge")
	t.Setenv("EDGEPROBE_MIRROR_RETRIES", "3")

	var cfg sampleConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))

	require.NotNil(t, cfg.Mirror)
	assert.Equal(t, 3, cfg.Mirror.Retries)
}

func TestLoadOptionalMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	var cfg sampleConfig
	err := NewConfig(nil).LoadOptional(context.Background(), filepath.Join(t.TempDir(), "absent.json"), &cfg)
	require.ErrorIs(t, err, errNameRequired)
	assert.True(t, cfg.defaulted)
	assert.Equal(t, 20, cfg.Workers)
}

func TestLoadOptionalReadsExistingFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeFile(t, "agent.json", "\xef\xbb\xbf"+`{"name":"bom"}`)

	var cfg sampleConfig
	require.NoError(t, NewConfig(nil).LoadOptional(context.Background(), path, &cfg))
	assert.Equal(t, "bom", cfg.Name)
}

func TestFileLoaderReportsSyntaxLine(t *testing.T) {
	path := writeFile(t, "agent.json", "{\n  \"name\": \"edge\",\n  \"workers\": ,\n}")

	var cfg sampleConfig
	err := (&FileConfigLoader{}).Load(context.Background(), path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestLoadFromEnvironmentJSON(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "")
	t.Setenv("EDGEPROBE_CONFIG_JSON", `{"name":"json","workers":3}`)

	var cfg sampleConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, "json", cfg.Name)
	assert.Equal(t, 3, cfg.Workers)
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration

	require.NoError(t, d.UnmarshalJSON([]byte(`"1m"`)))
	assert.Equal(t, time.Minute, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.Std())

	require.ErrorIs(t, d.UnmarshalJSON([]byte(`true`)), ErrInvalidDuration)
}

func TestLoadFacility(t *testing.T) {
	path := writeFile(t, "facility_config.json",
		`{"device":{"id":12,"facilityId":4,"macAddress":"de:ad:be:ef:00:01","devices":[]}}`)

	cfg, id, err := LoadFacility(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, models.DeviceIdentity{EdgeDeviceID: "12", FacilityID: "4", MACAddress: "de:ad:be:ef:00:01"}, id)
}

func TestLoadFacilityMissing(t *testing.T) {
	_, _, err := LoadFacility(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := writeFile(t, "facility_config.json", `{"device":{"id":12}}`)

	_, _, err = LoadFacility(context.Background(), path)
	require.ErrorIs(t, err, models.ErrMissingIdentity)
}

func TestTLSClientConfig(t *testing.T) {
	tc := &TLSConfig{CertDir: "/etc/edgeprobe/certs", CAFile: "ca.pem", CertFile: "client.pem"}
	require.Error(t, tc.Validate())

	tc.NormalizePaths()
	assert.Equal(t, "/etc/edgeprobe/certs/ca.pem", tc.CAFile)

	bad := &TLSConfig{CAFile: writeFile(t, "ca.pem", "not a cert")}
	_, err := bad.ClientConfig()
	require.ErrorIs(t, err, ErrCAParsingFailed)

	plain := &TLSConfig{InsecureSkipVerify: true}
	cfg, err := plain.ClientConfig()
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Nil(t, cfg.RootCAs)
}
