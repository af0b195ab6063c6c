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
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/edgeprobe/pkg/logger"
)

const (
	defaultCommunity   = "public"
	defaultSNMPPort    = 161
	defaultSNMPTimeout = 2 * time.Second
	defaultSNMPRetries = 1

	// mib-2, the subtree snmpwalk covers when no OID is given.
	mib2OID = ".1.3.6.1.2.1"
)

// SNMPConfig tunes the SNMP walker.
type SNMPConfig struct {
	Port    uint16
	Timeout time.Duration
	Retries int
	RootOID string
}

// SNMPWalker performs an SNMP v2c bulk walk of the target and returns the
// walked variables, one per line.
type SNMPWalker struct {
	config SNMPConfig
	logger logger.Logger
}

func NewSNMPWalker(log logger.Logger, cfg SNMPConfig) *SNMPWalker {
	if cfg.Port == 0 {
		cfg.Port = defaultSNMPPort
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSNMPTimeout
	}

	if cfg.Retries <= 0 {
		cfg.Retries = defaultSNMPRetries
	}

	if cfg.RootOID == "" {
		cfg.RootOID = mib2OID
	}

	return &SNMPWalker{config: cfg, logger: log}
}

func (w *SNMPWalker) client(ctx context.Context, target, community string) *gosnmp.GoSNMP {
	return &gosnmp.GoSNMP{
		Context:            ctx,
		Target:             target,
		Port:               w.config.Port,
		Community:          community,
		Version:            gosnmp.Version2c,
		Timeout:            w.config.Timeout,
		Retries:            w.config.Retries,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     10,
		ExponentialTimeout: true,
	}
}

func (w *SNMPWalker) Probe(ctx context.Context, req Request) (Outcome, error) {
	if req.Target == "" {
		return Outcome{}, errMissingTarget
	}

	community := req.Secret
	if community == "" {
		community = defaultCommunity
	}

	client := w.client(ctx, req.Target, community)

	if err := client.Connect(); err != nil {
		return Failed(fmt.Sprintf("failed to connect to %s: %v", req.Target, err)), nil
	}
	defer func() { _ = client.Conn.Close() }()

	var lines []string

	err := client.BulkWalk(w.config.RootOID, func(pdu gosnmp.SnmpPDU) error {
		lines = append(lines, FormatPDU(pdu))

		return nil
	})
	if err != nil {
		w.logger.Debug().Err(err).Str("target", req.Target).Int("walked", len(lines)).Msg("SNMP walk failed")

		return Failed(fmt.Sprintf("Timeout: No Response from %s (%v)", req.Target, err)), nil
	}

	w.logger.Debug().Str("target", req.Target).Int("walked", len(lines)).Msg("SNMP walk completed")

	return Succeeded(strings.Join(lines, "\n")), nil
}

// FormatPDU renders a variable the way snmpwalk prints it.
func FormatPDU(pdu gosnmp.SnmpPDU) string {
	return fmt.Sprintf("%s = %s", pdu.Name, formatValue(pdu))
}

func formatValue(pdu gosnmp.SnmpPDU) string {
	switch pdu.Type {
	case gosnmp.OctetString, gosnmp.ObjectDescription:
		b, ok := pdu.Value.([]byte)
		if !ok {
			return fmt.Sprintf("STRING: %v", pdu.Value)
		}

		if utf8.Valid(b) {
			return fmt.Sprintf("STRING: %q", string(b))
		}

		return "Hex-STRING: " + strings.ToUpper(hex.EncodeToString(b))
	case gosnmp.ObjectIdentifier:
		return fmt.Sprintf("OID: %v", pdu.Value)
	case gosnmp.IPAddress:
		return fmt.Sprintf("IpAddress: %v", pdu.Value)
	case gosnmp.Integer:
		return fmt.Sprintf("INTEGER: %v", gosnmp.ToBigInt(pdu.Value))
	case gosnmp.Counter32:
		return fmt.Sprintf("Counter32: %v", gosnmp.ToBigInt(pdu.Value))
	case gosnmp.Counter64:
		return fmt.Sprintf("Counter64: %v", gosnmp.ToBigInt(pdu.Value))
	case gosnmp.Gauge32:
		return fmt.Sprintf("Gauge32: %v", gosnmp.ToBigInt(pdu.Value))
	case gosnmp.TimeTicks:
		return fmt.Sprintf("Timeticks: (%v)", gosnmp.ToBigInt(pdu.Value))
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return pdu.Type.String()
	default:
		return fmt.Sprintf("%s: %v", pdu.Type, pdu.Value)
	}
}
