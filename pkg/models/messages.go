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

// Inbound message types.
const (
	MessageExecuteProtocol       = "execute_protocol"
	MessagePing                  = "ping"
	MessageConnectionEstablished = "connection_established"
	MessageRegistrationSuccess   = "registration_success"
	MessageError                 = "error"
)

// Outbound message types.
const (
	MessageRegisterEdgeDevice = "register_edge_device"
	MessageCommandResult      = "command_result"
	MessagePong               = "pong"
)

// Envelope is the minimal view of any inbound frame used for routing.
type Envelope struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Command is a single probe request issued by the control plane.
type Command struct {
	CommandID   Token  `json:"commandId"`
	Protocol    string `json:"protocol"`
	CameraID    Token  `json:"cameraId"`
	TargetIP    string `json:"targetIp"`
	RTSPLink    string `json:"rtspLink" sensitive:"url"`
	Username    string `json:"username"`
	Password    string `json:"password" sensitive:"true"`
	IsScheduled Flag   `json:"isScheduled"`
	SchedulerID Token  `json:"schedulerId"`
}

// Result is the single outcome reported for an accepted Command.
type Result struct {
	Type        string `json:"type"`
	CommandID   Token  `json:"commandId"`
	Success     bool   `json:"success"`
	Result      any    `json:"result"`
	CameraID    Token  `json:"cameraId"`
	IsScheduled bool   `json:"isScheduled"`
	SchedulerID Token  `json:"schedulerId"`
}

// NewResult tags an outcome with the correlation fields of cmd.
func NewResult(cmd *Command, success bool, payload any) Result {
	return Result{
		Type:        MessageCommandResult,
		CommandID:   cmd.CommandID,
		Success:     success,
		Result:      payload,
		CameraID:    cmd.CameraID,
		IsScheduled: bool(cmd.IsScheduled),
		SchedulerID: cmd.SchedulerID,
	}
}

// Registration is the first frame written on every connection epoch.
type Registration struct {
	Type         string `json:"type"`
	EdgeDeviceID string `json:"edgeDeviceId"`
	FacilityID   string `json:"facilityId"`
	MACAddress   string `json:"macAddress"`
}

// NewRegistration builds the handshake frame for id.
func NewRegistration(id DeviceIdentity) Registration {
	return Registration{
		Type:         MessageRegisterEdgeDevice,
		EdgeDeviceID: id.EdgeDeviceID,
		FacilityID:   id.FacilityID,
		MACAddress:   id.MACAddress,
	}
}

type Pong struct {
	Type string `json:"type"`
}
