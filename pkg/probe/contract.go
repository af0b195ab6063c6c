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
	"net/url"

	"github.com/carverauto/edgeprobe/pkg/models"
)

// Contract is the fixed argument shape a probe expects.
type Contract int

const (
	// ContractTarget passes the bare target address.
	ContractTarget Contract = iota
	// ContractTargetSecret passes the target and a shared secret.
	ContractTargetSecret
	// ContractStreamURI passes a stream URI with credentials spliced in.
	ContractStreamURI
	// ContractTargetCredentials passes the target with username and password.
	ContractTargetCredentials
)

func (c Contract) String() string {
	switch c {
	case ContractTarget:
		return "target"
	case ContractTargetSecret:
		return "target+secret"
	case ContractStreamURI:
		return "stream-uri"
	case ContractTargetCredentials:
		return "target+credentials"
	default:
		return "unknown"
	}
}

// BuildRequest maps the fields of cmd onto a Request according to c.
func BuildRequest(c Contract, cmd *models.Command) Request {
	switch c {
	case ContractTarget:
		return Request{Target: cmd.TargetIP}
	case ContractTargetSecret:
		return Request{Target: cmd.TargetIP, Secret: cmd.Password}
	case ContractStreamURI:
		return Request{StreamURI: SpliceCredentials(cmd.RTSPLink, cmd.Username, cmd.Password)}
	case ContractTargetCredentials:
		return Request{Target: cmd.TargetIP, Username: cmd.Username, Password: cmd.Password}
	default:
		return Request{}
	}
}

// SpliceCredentials embeds user and pass into an rtsp link. The link is
// returned unchanged when either credential is missing, the link does not
// parse, or its scheme is not rtsp.
func SpliceCredentials(link, user, pass string) string {
	if link == "" || user == "" || pass == "" {
		return link
	}

	u, err := url.Parse(link)
	if err != nil || u.Scheme != "rtsp" || u.Host == "" {
		return link
	}

	u.User = url.UserPassword(user, pass)

	return u.String()
}
