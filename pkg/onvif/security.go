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

package onvif

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // WS-Security UsernameToken digests are defined over SHA-1
	"encoding/base64"
	"encoding/xml"
	"fmt"
)

const nonceSize = 16

const securityTemplate = `<wsse:Security s:mustUnderstand="1"` +
	` xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"` +
	` xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">` +
	`<wsse:UsernameToken>` +
	`<wsse:Username>%s</wsse:Username>` +
	`<wsse:Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</wsse:Password>` +
	`<wsse:Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</wsse:Nonce>` +
	`<wsu:Created>%s</wsu:Created>` +
	`</wsse:UsernameToken></wsse:Security>`

// PasswordDigest computes Base64(SHA1(nonce + created + password)).
func PasswordDigest(nonce []byte, created, password string) string {
	h := sha1.New() //nolint:gosec // see import
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// securityHeader returns an empty header when no username is configured.
func (c *Client) securityHeader() (string, error) {
	if c.username == "" {
		return "", nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	created := c.now().UTC().Format("2006-01-02T15:04:05.000Z")

	var user bytes.Buffer
	if err := xml.EscapeText(&user, []byte(c.username)); err != nil {
		return "", err
	}

	return fmt.Sprintf(securityTemplate,
		user.String(),
		PasswordDigest(nonce, created, c.password),
		base64.StdEncoding.EncodeToString(nonce),
		created,
	), nil
}
