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

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/suburb/common"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

const testAPIKey = "ut-api-key"

func defineTestServer(
	t *testing.T, ctxt context.Context,
) (*httptest.Server, APIRestHandler) {
	config := common.DevServerConfig{
		Logging: common.HTTPRequestLogging{
			RequestIDHeader: "Suburb-Request-ID",
			DoNotLogHeaders: []string{"Authorization"},
		},
		APIKeys: []string{testAPIKey},
	}
	uut, err := GetAPIRestHandler(ctxt, NewMemoryStore(), &config)
	assert.Nil(t, err)
	return httptest.NewServer(BuildRouter(uut)), uut
}

type testCaller struct {
	t    *testing.T
	base string
	key  string
}

// call issue one request, returning the status and the decoded envelope
func (c testCaller) call(
	method, path string, body interface{},
) (int, json.RawMessage) {
	var payload *bytes.Reader
	if body != nil {
		t, err := json.Marshal(body)
		assert.Nil(c.t, err)
		payload = bytes.NewReader(t)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, payload)
	assert.Nil(c.t, err)
	req.Header.Set("Authorization", c.key)
	req.Header.Set("Suburb-Request-ID", uuid.NewString())
	resp, err := http.DefaultClient.Do(req)
	assert.Nil(c.t, err)
	defer resp.Body.Close()
	var envelope common.Envelope
	if resp.StatusCode == http.StatusOK {
		assert.Nil(c.t, json.NewDecoder(resp.Body).Decode(&envelope))
		assert.Equal(c.t, "application/json", resp.Header.Get("content-type"))
	}
	return resp.StatusCode, envelope.Response
}

func TestMain(m *testing.M) {
	log.SetLevel(log.DebugLevel)
	os.Exit(m.Run())
}

func TestBackendAuthorization(t *testing.T) {
	assert := assert.New(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	server, _ := defineTestServer(t, utCtxt)
	defer server.Close()

	// Case 0: no key
	{
		resp, err := http.Get(server.URL + "/namespaces")
		assert.Nil(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
		var msg goutils.RestAPIBaseResponse
		assert.Nil(json.NewDecoder(resp.Body).Decode(&msg))
		assert.False(msg.Success)
	}

	// Case 1: wrong key
	{
		caller := testCaller{t: t, base: server.URL, key: "not-the-key"}
		code, _ := caller.call("GET", "/namespaces", nil)
		assert.Equal(http.StatusUnauthorized, code)
	}

	// Case 2: correct key
	{
		caller := testCaller{t: t, base: server.URL, key: testAPIKey}
		code, resp := caller.call("GET", "/namespaces", nil)
		assert.Equal(http.StatusOK, code)
		assert.JSONEq("[]", string(resp))
	}
}

func TestBackendResources(t *testing.T) {
	assert := assert.New(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	server, _ := defineTestServer(t, utCtxt)
	defer server.Close()
	caller := testCaller{t: t, base: server.URL, key: testAPIKey}

	namespace := uuid.NewString()

	// Case 0: namespace life cycle
	{
		code, resp := caller.call("POST", "/namespaces", common.NamespaceCreateRequest{Name: namespace})
		assert.Equal(http.StatusOK, code)
		assert.JSONEq(fmt.Sprintf(`{"name":"%s"}`, namespace), string(resp))

		code, _ = caller.call("POST", "/namespaces", common.NamespaceCreateRequest{Name: namespace})
		assert.Equal(http.StatusConflict, code)

		code, _ = caller.call("POST", "/namespaces", map[string]int{"name": 1})
		assert.Equal(http.StatusBadRequest, code)

		code, _ = caller.call("DELETE", "/namespaces/"+uuid.NewString(), nil)
		assert.Equal(http.StatusNotFound, code)
	}

	// Case 1: queue operations
	queue := "orders/eu"
	queuePath := fmt.Sprintf("/queues/%s/%s", namespace, url.PathEscape(queue))
	{
		code, _ := caller.call("POST", "/queues/"+namespace, common.QueueCreateRequest{Queue: queue})
		assert.Equal(http.StatusOK, code)

		code, resp := caller.call("GET", "/queues/"+namespace, nil)
		assert.Equal(http.StatusOK, code)
		assert.JSONEq(`[{"queue":"orders/eu"}]`, string(resp))

		code, resp = caller.call("POST", queuePath+"/pop", nil)
		assert.Equal(http.StatusOK, code)
		assert.Equal("null", string(resp))

		for _, msg := range []string{"a", "b"} {
			code, _ = caller.call("POST", queuePath, common.MessageRequest{Message: msg})
			assert.Equal(http.StatusOK, code)
		}

		code, resp = caller.call("GET", queuePath+"/length", nil)
		assert.Equal(http.StatusOK, code)
		assert.Equal("2", string(resp))

		code, resp = caller.call("GET", queuePath+"/peek", nil)
		assert.Equal(http.StatusOK, code)
		assert.Equal(`"a"`, string(resp))

		code, resp = caller.call("POST", queuePath+"/pop", nil)
		assert.Equal(http.StatusOK, code)
		assert.Equal(`"a"`, string(resp))

		code, resp = caller.call("GET", queuePath+"/length", nil)
		assert.Equal(http.StatusOK, code)
		assert.Equal("1", string(resp))

		code, _ = caller.call("DELETE", queuePath, nil)
		assert.Equal(http.StatusOK, code)
		code, _ = caller.call("GET", queuePath+"/length", nil)
		assert.Equal(http.StatusNotFound, code)
	}

	// Case 2: flag operations
	{
		flagPath := fmt.Sprintf("/flags/%s/dark-mode", namespace)
		code, resp := caller.call("GET", flagPath, nil)
		assert.Equal(http.StatusOK, code)
		assert.Equal("null", string(resp))

		value := true
		code, _ = caller.call("POST", flagPath, common.FlagSetRequest{Value: &value})
		assert.Equal(http.StatusOK, code)

		code, _ = caller.call("POST", flagPath, map[string]string{})
		assert.Equal(http.StatusBadRequest, code)

		code, resp = caller.call("GET", flagPath, nil)
		assert.Equal(http.StatusOK, code)
		assert.Equal("true", string(resp))

		code, resp = caller.call("GET", "/flags/"+namespace, nil)
		assert.Equal(http.StatusOK, code)
		assert.JSONEq(`[{"name":"dark-mode","value":true}]`, string(resp))

		code, _ = caller.call("DELETE", flagPath, nil)
		assert.Equal(http.StatusOK, code)
		code, _ = caller.call("DELETE", flagPath, nil)
		assert.Equal(http.StatusNotFound, code)
	}

	// Case 3: log operations
	{
		code, resp := caller.call("POST", "/logs/"+namespace, common.LogAddRequest{
			Source: "ut", Level: "info", Message: "hello",
		})
		assert.Equal(http.StatusOK, code)
		var entry common.LogEntry
		assert.Nil(json.Unmarshal(resp, &entry))
		assert.Equal("hello", entry.Message)
		assert.WithinDuration(time.Now(), entry.CreatedAt, time.Minute)

		code, _ = caller.call("POST", "/logs/"+namespace, common.LogAddRequest{Message: "x"})
		assert.Equal(http.StatusBadRequest, code)

		code, resp = caller.call("GET", "/logs/"+namespace, nil)
		assert.Equal(http.StatusOK, code)
		var entries []common.LogEntry
		assert.Nil(json.Unmarshal(resp, &entries))
		assert.Len(entries, 1)
		assert.Equal("ut", entries[0].Source)
	}

	// Case 4: deleting the namespace removes its resources
	{
		code, _ := caller.call("DELETE", "/namespaces/"+namespace, nil)
		assert.Equal(http.StatusOK, code)
		code, _ = caller.call("GET", "/logs/"+namespace, nil)
		assert.Equal(http.StatusNotFound, code)
	}
}

func TestBackendPubSub(t *testing.T) {
	assert := assert.New(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	server, uut := defineTestServer(t, utCtxt)
	defer server.Close()
	caller := testCaller{t: t, base: server.URL, key: testAPIKey}

	channel := uuid.NewString()
	streamURL := strings.Replace(server.URL, "http", "ws", 1) + "/pubsub/" + channel + "/listen"
	headers := http.Header{}
	headers.Set("Authorization", testAPIKey)

	// Case 0: listen without a key
	{
		_, resp, err := websocket.DefaultDialer.Dial(streamURL, nil)
		assert.NotNil(err)
		assert.NotNil(resp)
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(streamURL, headers)
	assert.Nil(err)
	defer conn.Close()
	assert.Eventually(func() bool {
		return uut.ListenerCount(channel) == 1
	}, time.Second, time.Millisecond*10)

	// Case 1: published message reaches the listener
	{
		code, _ := caller.call(
			"POST", fmt.Sprintf("/pubsub/%s/publish", channel), common.MessageRequest{Message: "hi"},
		)
		assert.Equal(http.StatusOK, code)
		assert.Nil(conn.SetReadDeadline(time.Now().Add(time.Second * 5)))
		msgType, msg, err := conn.ReadMessage()
		assert.Nil(err)
		assert.Equal(websocket.TextMessage, msgType)
		assert.Equal("hi", string(msg))
	}

	// Case 2: dropped listener receives a going away close
	{
		assert.Equal(1, uut.DropListeners(channel))
		_, _, err := conn.ReadMessage()
		assert.NotNil(err)
		assert.True(websocket.IsCloseError(err, websocket.CloseGoingAway))
		assert.Eventually(func() bool {
			return uut.ListenerCount(channel) == 0
		}, time.Second, time.Millisecond*10)
	}
}
