// Copyright 2021-2022 The suburb Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// HTTPTransportParams parameters for building the HTTP client used to reach the backend
type HTTPTransportParams struct {
	// RequestTimeout max duration of one call. Zero means no timeout.
	RequestTimeout time.Duration
	// HTTP2PriorKnowledge speak HTTP/2 over cleartext (h2c). Only valid for "http" hosts.
	HTTP2PriorKnowledge bool
}

// BuildHTTPClient define the HTTP client
func BuildHTTPClient(params HTTPTransportParams) *http.Client {
	if !params.HTTP2PriorKnowledge {
		return &http.Client{Timeout: params.RequestTimeout}
	}
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLS: func(network, addr string, _ *tls.Config) (net.Conn, error) {
			return net.Dial(network, addr)
		},
	}
	return &http.Client{Transport: transport, Timeout: params.RequestTimeout}
}
