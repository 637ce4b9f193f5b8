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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/suburb/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// listenerBuffer number of messages held per listener before new ones are dropped
const listenerBuffer = 64

// APIRestHandler REST handler for the in-memory development backend
type APIRestHandler struct {
	goutils.RestAPIHandler
	store       *MemoryStore
	broker      *channelBroker
	apiKeys     map[string]bool
	validate    *validator.Validate
	upgrader    websocket.Upgrader
	baseContext context.Context
}

// GetAPIRestHandler define APIRestHandler
func GetAPIRestHandler(
	baseContext context.Context,
	store *MemoryStore,
	config *common.DevServerConfig,
) (APIRestHandler, error) {
	logTags := log.Fields{
		"module":    "backend",
		"component": "rest-handler",
	}
	if len(config.APIKeys) == 0 {
		return APIRestHandler{}, fmt.Errorf("no API keys configured")
	}
	keys := make(map[string]bool)
	for _, key := range config.APIKeys {
		keys[key] = true
	}
	return APIRestHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
					common.ModifyLogTagsByRequestParam,
				},
			},
			CallRequestIDHeaderField: &config.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range config.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		store:       store,
		broker:      newChannelBroker(listenerBuffer),
		apiKeys:     keys,
		validate:    validator.New(),
		upgrader:    websocket.Upgrader{HandshakeTimeout: time.Second * 10},
		baseContext: baseContext,
	}, nil
}

// reply write the response envelope, or the error matching a failed operation
func (h APIRestHandler) reply(
	w http.ResponseWriter, r *http.Request, payload interface{}, err error,
) {
	logTags := h.GetLogTagsForContext(r.Context())
	respCode := http.StatusOK
	var respBody interface{} = responseEnvelope{Response: payload}
	if err != nil {
		respCode = errorStatus(err)
		msg := http.StatusText(respCode)
		log.WithError(err).WithFields(logTags).Errorf("%s %s failed", r.Method, r.URL.Path)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
	}
	if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to form response")
	}
}

// readBody parse and validate a JSON request body
func (h APIRestHandler) readBody(r *http.Request, target interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return requestError{err: fmt.Errorf("unable to parse request body: %w", err)}
	}
	if err := h.validate.Struct(target); err != nil {
		return requestError{err: fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

// ========================================================================================
// Middleware

// attachRequestID middleware function to attach a request ID to a API request
func (h APIRestHandler) attachRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		// use provided request id from incoming request if any
		reqID := ""
		if h.CallRequestIDHeaderField != nil {
			reqID = r.Header.Get(*h.CallRequestIDHeaderField)
		}
		if reqID == "" {
			// or use some generated string
			reqID = uuid.New().String()
		}
		ctx := common.RecordRequestParam(r.Context(), common.RequestParam{
			ID: reqID, Method: r.Method, URI: r.URL.String(),
		})
		log.WithFields(h.GetLogTagsForContext(ctx)).Debug("Request received")
		if h.CallRequestIDHeaderField != nil {
			rw.Header().Set(*h.CallRequestIDHeaderField, reqID)
		}
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// authorize middleware function rejecting requests without a known API key
func (h APIRestHandler) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !h.apiKeys[r.Header.Get("Authorization")] {
			h.reply(rw, r, nil, authError{})
			return
		}
		next.ServeHTTP(rw, r)
	})
}

// ========================================================================================
// Namespaces

// ListNamespaces handler
func (h APIRestHandler) ListNamespaces(w http.ResponseWriter, r *http.Request) {
	h.reply(w, r, h.store.ListNamespaces(), nil)
}

// CreateNamespace handler
func (h APIRestHandler) CreateNamespace(w http.ResponseWriter, r *http.Request) {
	var req common.NamespaceCreateRequest
	if err := h.readBody(r, &req); err != nil {
		h.reply(w, r, nil, err)
		return
	}
	created, err := h.store.CreateNamespace(req.Name)
	h.reply(w, r, created, err)
}

// DeleteNamespace handler
func (h APIRestHandler) DeleteNamespace(w http.ResponseWriter, r *http.Request) {
	namespace, err := pathVar(r, "namespace")
	if err == nil {
		err = h.store.DeleteNamespace(namespace)
	}
	h.reply(w, r, nil, err)
}

// ========================================================================================
// Queues

// queueVars read the namespace and queue path variables
func queueVars(r *http.Request) (string, string, error) {
	namespace, err := pathVar(r, "namespace")
	if err != nil {
		return "", "", err
	}
	queue, err := pathVar(r, "queue")
	return namespace, queue, err
}

// ListQueues handler
func (h APIRestHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	namespace, err := pathVar(r, "namespace")
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	queues, err := h.store.ListQueues(namespace)
	h.reply(w, r, queues, err)
}

// CreateQueue handler
func (h APIRestHandler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	namespace, err := pathVar(r, "namespace")
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	var req common.QueueCreateRequest
	if err := h.readBody(r, &req); err != nil {
		h.reply(w, r, nil, err)
		return
	}
	created, err := h.store.CreateQueue(namespace, req.Queue)
	h.reply(w, r, created, err)
}

// DeleteQueue handler
func (h APIRestHandler) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	namespace, queue, err := queueVars(r)
	if err == nil {
		err = h.store.DeleteQueue(namespace, queue)
	}
	h.reply(w, r, nil, err)
}

// PushMessage handler
func (h APIRestHandler) PushMessage(w http.ResponseWriter, r *http.Request) {
	namespace, queue, err := queueVars(r)
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	var req common.MessageRequest
	if err := h.readBody(r, &req); err != nil {
		h.reply(w, r, nil, err)
		return
	}
	h.reply(w, r, nil, h.store.Push(namespace, queue, req.Message))
}

// PeekMessage handler
func (h APIRestHandler) PeekMessage(w http.ResponseWriter, r *http.Request) {
	namespace, queue, err := queueVars(r)
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	head, err := h.store.Peek(namespace, queue)
	h.reply(w, r, head, err)
}

// PopMessage handler
func (h APIRestHandler) PopMessage(w http.ResponseWriter, r *http.Request) {
	namespace, queue, err := queueVars(r)
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	head, err := h.store.Pop(namespace, queue)
	h.reply(w, r, head, err)
}

// QueueLength handler
func (h APIRestHandler) QueueLength(w http.ResponseWriter, r *http.Request) {
	namespace, queue, err := queueVars(r)
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	length, err := h.store.Length(namespace, queue)
	h.reply(w, r, length, err)
}

// ========================================================================================
// Feature flags

// flagVars read the namespace and flag path variables
func flagVars(r *http.Request) (string, string, error) {
	namespace, err := pathVar(r, "namespace")
	if err != nil {
		return "", "", err
	}
	flag, err := pathVar(r, "flag")
	return namespace, flag, err
}

// ListFlags handler
func (h APIRestHandler) ListFlags(w http.ResponseWriter, r *http.Request) {
	namespace, err := pathVar(r, "namespace")
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	flags, err := h.store.ListFlags(namespace)
	h.reply(w, r, flags, err)
}

// GetFlag handler
func (h APIRestHandler) GetFlag(w http.ResponseWriter, r *http.Request) {
	namespace, flag, err := flagVars(r)
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	value, err := h.store.GetFlag(namespace, flag)
	h.reply(w, r, value, err)
}

// SetFlag handler
func (h APIRestHandler) SetFlag(w http.ResponseWriter, r *http.Request) {
	namespace, flag, err := flagVars(r)
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	var req common.FlagSetRequest
	if err := h.readBody(r, &req); err != nil {
		h.reply(w, r, nil, err)
		return
	}
	h.reply(w, r, nil, h.store.SetFlag(namespace, flag, *req.Value))
}

// DeleteFlag handler
func (h APIRestHandler) DeleteFlag(w http.ResponseWriter, r *http.Request) {
	namespace, flag, err := flagVars(r)
	if err == nil {
		err = h.store.DeleteFlag(namespace, flag)
	}
	h.reply(w, r, nil, err)
}

// ========================================================================================
// Logs

// ListLogs handler
func (h APIRestHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	namespace, err := pathVar(r, "namespace")
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	entries, err := h.store.ListLogs(namespace)
	h.reply(w, r, entries, err)
}

// AddLog handler
func (h APIRestHandler) AddLog(w http.ResponseWriter, r *http.Request) {
	namespace, err := pathVar(r, "namespace")
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	var req common.LogAddRequest
	if err := h.readBody(r, &req); err != nil {
		h.reply(w, r, nil, err)
		return
	}
	entry, err := h.store.AddLog(namespace, req.Source, req.Level, req.Message)
	h.reply(w, r, entry, err)
}

// ========================================================================================
// Pub/Sub

// Publish handler
func (h APIRestHandler) Publish(w http.ResponseWriter, r *http.Request) {
	channel, err := pathVar(r, "channel")
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	var req common.MessageRequest
	if err := h.readBody(r, &req); err != nil {
		h.reply(w, r, nil, err)
		return
	}
	delivered := h.broker.publish(channel, []byte(req.Message))
	log.WithFields(h.GetLogTagsForContext(r.Context())).Debugf(
		"Published to '%s', reached %d listeners", channel, delivered,
	)
	h.reply(w, r, nil, nil)
}

// Listen handler upgrading the request to a message stream of the channel
func (h APIRestHandler) Listen(w http.ResponseWriter, r *http.Request) {
	logTags := h.GetLogTagsForContext(r.Context())
	channel, err := pathVar(r, "channel")
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error
		log.WithError(err).WithFields(logTags).Errorf("Stream upgrade on '%s' failed", channel)
		return
	}
	defer conn.Close()

	listenerID := uuid.New().String()
	member := h.broker.register(channel, listenerID)
	defer h.broker.unregister(channel, listenerID)

	// Inbound frames are discarded; the read loop only detects the peer going away
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	closeWith := func(code int, reason string) {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := conn.WriteControl(
			websocket.CloseMessage, msg, time.Now().Add(time.Second),
		); err != nil {
			log.WithError(err).WithFields(logTags).Debug("Unable to send close frame")
		}
	}

	for {
		select {
		case msg := <-member.send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.WithError(err).WithFields(logTags).Errorf("Failed to forward to %s", listenerID)
				return
			}
		case <-member.dropped:
			closeWith(websocket.CloseGoingAway, "listener dropped")
			return
		case <-h.baseContext.Done():
			closeWith(websocket.CloseGoingAway, "server stopping")
			return
		case <-readerDone:
			return
		}
	}
}

// DropListeners close every streaming connection on a channel. Returns the number of
// connections closed.
func (h APIRestHandler) DropListeners(channel string) int {
	return h.broker.dropAll(channel)
}

// ListenerCount the number of streaming connections on a channel
func (h APIRestHandler) ListenerCount(channel string) int {
	return h.broker.listenerCount(channel)
}
