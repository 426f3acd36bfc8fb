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

import "path/filepath"

// SecurityConfig carries the mTLS material for outbound connections, currently
// only the NATS event stream.
type SecurityConfig struct {
	Mode       string    `json:"mode"`
	CertDir    string    `json:"cert_dir"`
	ServerName string    `json:"server_name,omitempty"`
	TLS        TLSConfig `json:"tls"`
}

// TLSConfig holds certificate file locations. Relative paths are resolved
// against SecurityConfig.CertDir before use.
type TLSConfig struct {
	CertFile     string `json:"cert_file"`
	KeyFile      string `json:"key_file"`
	CAFile       string `json:"ca_file"`
	ClientCAFile string `json:"client_ca_file,omitempty"`
}

// NormalizeTLSPaths resolves relative certificate paths against CertDir and
// falls ClientCAFile back to CAFile when unset. Absolute paths pass through.
func (c *SecurityConfig) NormalizeTLSPaths() {
	c.TLS.CertFile = c.resolve(c.TLS.CertFile)
	c.TLS.KeyFile = c.resolve(c.TLS.KeyFile)
	c.TLS.CAFile = c.resolve(c.TLS.CAFile)

	if c.TLS.ClientCAFile == "" {
		c.TLS.ClientCAFile = c.TLS.CAFile
	} else {
		c.TLS.ClientCAFile = c.resolve(c.TLS.ClientCAFile)
	}
}

func (c *SecurityConfig) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(c.CertDir, path)
}
