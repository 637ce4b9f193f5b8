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

package pubsub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/core"
	"github.com/apex/log"
)

// Callbacks hooks invoked for each subscription event. Nil hooks are skipped.
//
// A hook returning an error, or panicking, is logged and the subscription moves on
// to the next event. Hooks run on the listening goroutine, so a hook which blocks
// stalls the delivery of later events.
type Callbacks struct {
	OnOpen    func(conn ConnectionInfo) error
	OnMessage func(conn ConnectionInfo, payload []byte) error
	OnError   func(conn ConnectionInfo, err error) error
	OnClose   func(conn ConnectionInfo, code int, reason string) error
}

// dispatch invoke the hook matching the event
func (c Callbacks) dispatch(event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s hook panic: %v", event.Type, r)
		}
	}()
	switch event.Type {
	case EventOpened:
		if c.OnOpen != nil {
			return c.OnOpen(event.Conn)
		}
	case EventMessage:
		if c.OnMessage != nil {
			return c.OnMessage(event.Conn, event.Payload)
		}
	case EventError:
		if c.OnError != nil {
			return c.OnError(event.Conn, event.Err)
		}
	case EventClosed:
		if c.OnClose != nil {
			return c.OnClose(event.Conn, event.Code, event.Reason)
		}
	}
	return nil
}

// Listen run the subscription and feed its events to the hooks. Blocks until the
// context is cancelled.
func Listen(ctxt context.Context, sub *Subscription, callbacks Callbacks) error {
	runResult := make(chan error, 1)
	go func() {
		runResult <- sub.Run(ctxt)
	}()
	for event := range sub.Events() {
		if err := callbacks.dispatch(event); err != nil {
			log.WithError(err).WithFields(sub.LogTags).Errorf("Hook failed on %s", event)
		}
	}
	return <-runResult
}

// ==============================================================================

// Endpoint where and how to reach the backend's streaming API
type Endpoint interface {
	Host() string
	AuthHeaders() http.Header
}

// Publisher one-shot channel publish through the request executor
type Publisher struct {
	executor core.Executor
}

// DefinePublisher define a new Publisher
func DefinePublisher(executor core.Executor) Publisher {
	return Publisher{executor: executor}
}

// Publish publish a message on a channel
func (p Publisher) Publish(ctxt context.Context, channel string, message string) error {
	path := fmt.Sprintf("/pubsub/%s/publish", url.PathEscape(channel))
	_, err := p.executor.Execute(
		ctxt, http.MethodPost, path, common.MessageRequest{Message: message},
	)
	return err
}
