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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alwitt/suburb/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// emptyResponse is returned when a successful envelope carries no "response" field
var emptyResponse = json.RawMessage("{}")

// Executor issues one call against the backend and returns the unwrapped response payload
type Executor interface {
	Execute(ctxt context.Context, method, path string, body interface{}) (json.RawMessage, error)
}

// RequestExecutorParams parameters for defining a RequestExecutor
type RequestExecutorParams struct {
	// Host is the backend base URL
	Host string `validate:"required,url"`
	// APIKey is sent as the Authorization header
	APIKey string `validate:"required"`
	// RequestIDHeader is the header carrying the per call request ID. Not sent if empty.
	RequestIDHeader string
	// Client is the HTTP client to use. Defaults to BuildHTTPClient with no timeout.
	Client *http.Client
}

// RequestExecutor issues HTTP calls against the backend
type RequestExecutor struct {
	common.Component
	host            string
	apiKey          string
	requestIDHeader string
	client          *http.Client
}

// DefineRequestExecutor define a new RequestExecutor
func DefineRequestExecutor(params RequestExecutorParams) (*RequestExecutor, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, err
	}
	host := strings.TrimSuffix(params.Host, "/")
	logTags := log.Fields{
		"module": "core", "component": "request-executor", "instance": host,
	}
	client := params.Client
	if client == nil {
		client = BuildHTTPClient(HTTPTransportParams{})
	}
	return &RequestExecutor{
		Component: common.Component{
			LogTags: logTags,
			LogTagModifiers: []common.LogTagModifier{
				common.ModifyLogTagsByRequestParam,
				common.ModifyLogTagsByLogForwarding,
			},
		},
		host:            host,
		apiKey:          params.APIKey,
		requestIDHeader: params.RequestIDHeader,
		client:          client,
	}, nil
}

// Host the normalized backend base URL
func (e *RequestExecutor) Host() string {
	return e.host
}

// AuthHeaders the headers authorizing a connection with the backend
func (e *RequestExecutor) AuthHeaders() http.Header {
	headers := http.Header{}
	headers.Set("Authorization", e.apiKey)
	return headers
}

// Execute issue one call and return the "response" field of the reply envelope.
//
// A non-2xx reply is returned as a common.TransportError; an undecodable 2xx reply
// as a common.DecodeError.
func (e *RequestExecutor) Execute(
	ctxt context.Context, method, path string, body interface{},
) (json.RawMessage, error) {
	url := e.host + path

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("unable to encode %s %s body: %w", method, url, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctxt, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", e.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	if e.requestIDHeader != "" {
		req.Header.Set(e.requestIDHeader, reqID)
	}
	logTags := e.GetLogTagsForContext(common.RecordRequestParam(ctxt, common.RequestParam{
		ID: reqID, Method: method, URI: url,
	}))

	resp, err := e.client.Do(req)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Request to %s failed", url)
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Failed to read response from %s", url)
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		log.WithFields(logTags).Errorf(
			"Request to %s returned status %d: %s", url, resp.StatusCode, raw,
		)
		return nil, common.TransportError{
			Method: method, URL: url, StatusCode: resp.StatusCode, Body: string(raw),
		}
	}
	log.WithFields(logTags).Debugf("Request to %s returned status %d", url, resp.StatusCode)

	if len(bytes.TrimSpace(raw)) == 0 {
		return emptyResponse, nil
	}
	var envelope common.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Response from %s is not an envelope", url)
		return nil, common.DecodeError{URL: url, Err: err}
	}
	if len(envelope.Response) == 0 {
		return emptyResponse, nil
	}
	return envelope.Response, nil
}

// Decode parse a response payload returned by an Executor
func Decode(path string, payload json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(payload, target); err != nil {
		return common.DecodeError{URL: path, Err: err}
	}
	return nil
}
