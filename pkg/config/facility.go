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
	"fmt"

	"github.com/carverauto/edgeprobe/pkg/models"
)

// DefaultFacilityPath is where edge-register stores the facility document.
const DefaultFacilityPath = "/home/metro/facility_config.json"

// LoadFacility reads the facility configuration and checks the device
// identity is complete. Callers treat any error as fatal.
func LoadFacility(ctx context.Context, path string) (*models.FacilityConfig, models.DeviceIdentity, error) {
	var (
		cfg    models.FacilityConfig
		loader FileConfigLoader
	)

	if err := loader.Load(ctx, path, &cfg); err != nil {
		return nil, models.DeviceIdentity{}, fmt.Errorf("facility config: %w", err)
	}

	id, err := cfg.Identity()
	if err != nil {
		return nil, id, fmt.Errorf("facility config '%s': %w", path, err)
	}

	return &cfg, id, nil
}
