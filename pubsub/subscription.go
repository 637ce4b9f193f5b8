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
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/suburb/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

// closeEventGrace how long the final EventClosed may wait for a reader once the
// subscription is cancelled
const closeEventGrace = time.Second

// cancelReason close reason sent to the backend when the owner stops the subscription
const cancelReason = "subscription cancelled"

// StateObserver is called on every connection state transition
type StateObserver func(channel string, state ConnectionState)

// SubscriptionParams parameters for defining a Subscription
type SubscriptionParams struct {
	// Host is the backend HTTP base URL
	Host string `validate:"required,url"`
	// Channel is the channel to listen on
	Channel string `validate:"required"`
	// Headers are sent with the streaming handshake, i.e. Authorization
	Headers http.Header
	// ReconnectWait is the fixed delay before reconnecting after a connection loss
	ReconnectWait time.Duration `validate:"gt=0"`
	// HandshakeTimeout bounds the streaming handshake. Zero means no timeout.
	HandshakeTimeout time.Duration `validate:"gte=0"`
	// EventBuffer is the depth of the event channel
	EventBuffer int `validate:"gte=0"`
	// StateObserver optional state transition observer
	StateObserver StateObserver
}

// Subscription a long lived listener on one pub/sub channel.
//
// Run drives the connection through Connecting, Open and Reconnecting until its
// context is cancelled, delivering Events in order on the channel returned by Events.
type Subscription struct {
	common.Component
	channel       string
	url           string
	headers       http.Header
	dialer        *websocket.Dialer
	reconnectWait time.Duration
	observer      StateObserver
	events        chan Event

	lock      sync.Mutex
	state     ConnectionState
	lastError error
	started   bool
}

// DefineSubscription define a new Subscription in the Idle state
func DefineSubscription(params SubscriptionParams) (*Subscription, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, err
	}
	streamURL, err := StreamURL(params.Host, params.Channel)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	for name, values := range params.Headers {
		headers[name] = append([]string{}, values...)
	}
	logTags := log.Fields{
		"module": "pubsub", "component": "subscription", "instance": params.Channel,
	}
	return &Subscription{
		Component:     common.Component{LogTags: logTags},
		channel:       params.Channel,
		url:           streamURL,
		headers:       headers,
		dialer:        &websocket.Dialer{HandshakeTimeout: params.HandshakeTimeout},
		reconnectWait: params.ReconnectWait,
		observer:      params.StateObserver,
		events:        make(chan Event, params.EventBuffer),
		state:         Idle,
	}, nil
}

// Channel the subscribed channel
func (s *Subscription) Channel() string {
	return s.channel
}

// URL the streaming URL
func (s *Subscription) URL() string {
	return s.url
}

// Events the subscription's events. The channel is closed when Run returns.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// State the current connection state
func (s *Subscription) State() ConnectionState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// LastError the most recent connection failure, if any
func (s *Subscription) LastError() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastError
}

func (s *Subscription) setState(newState ConnectionState) {
	s.lock.Lock()
	s.state = newState
	s.lock.Unlock()
	log.WithFields(s.LogTags).Debugf("Connection state %s", newState)
	if s.observer != nil {
		s.observer(s.channel, newState)
	}
}

// Run run the subscription event loop. It returns nil once the context is cancelled;
// connection failures never end the loop. Run may only be called once.
func (s *Subscription) Run(ctxt context.Context) error {
	s.lock.Lock()
	if s.started {
		s.lock.Unlock()
		return fmt.Errorf("subscription on '%s' already started", s.channel)
	}
	s.started = true
	s.lock.Unlock()

	defer close(s.events)
	defer s.setState(Closed)
	defer log.WithFields(s.LogTags).Info("Subscription loop exiting")

	sequence := 0
	for {
		s.setState(Connecting)
		conn, err := s.connect(ctxt)
		if err != nil {
			if ctxt.Err() != nil {
				return nil
			}
			s.reportFailure(ctxt, ConnectionInfo{Channel: s.channel, Sequence: sequence}, err)
		} else {
			sequence++
			info := ConnectionInfo{Channel: s.channel, Sequence: sequence}
			s.setState(Open)
			log.WithFields(s.LogTags).Infof("Connected to %s", s.url)
			s.emit(ctxt, Event{Type: EventOpened, Conn: info})
			if cancelled := s.serve(ctxt, conn, info); cancelled {
				return nil
			}
		}

		s.setState(Reconnecting)
		log.WithFields(s.LogTags).Infof("Reconnecting in %s", s.reconnectWait)
		select {
		case <-ctxt.Done():
			return nil
		case <-time.After(s.reconnectWait):
		}
	}
}

// connect perform the streaming handshake
func (s *Subscription) connect(ctxt context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.dialer.DialContext(ctxt, s.url, s.headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// serve read frames until the connection ends. Returns true if the connection ended
// because the context was cancelled.
func (s *Subscription) serve(
	ctxt context.Context, conn *websocket.Conn, info ConnectionInfo,
) bool {
	readDone := make(chan struct{})
	defer close(readDone)
	defer func() {
		_ = conn.Close()
	}()

	// Unblock the read on cancel
	go func() {
		select {
		case <-ctxt.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, cancelReason),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
		case <-readDone:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctxt.Err() != nil {
				log.WithFields(s.LogTags).Infof("Closing connection to %s", s.url)
				s.emitFinal(Event{
					Type: EventClosed, Conn: info, Code: websocket.CloseNormalClosure, Reason: cancelReason,
				})
				return true
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				log.WithFields(s.LogTags).Warnf(
					"Connection closed by backend: %d %s", closeErr.Code, closeErr.Text,
				)
				s.emit(ctxt, Event{
					Type: EventClosed, Conn: info, Code: closeErr.Code, Reason: closeErr.Text,
				})
			} else {
				s.reportFailure(ctxt, info, err)
				s.emit(ctxt, Event{
					Type: EventClosed, Conn: info, Code: websocket.CloseAbnormalClosure, Reason: err.Error(),
				})
			}
			return false
		}
		s.emit(ctxt, Event{Type: EventMessage, Conn: info, Payload: payload})
	}
}

// reportFailure record a connection failure and emit it as an EventError
func (s *Subscription) reportFailure(ctxt context.Context, info ConnectionInfo, err error) {
	streamErr := common.StreamError{Channel: s.channel, URL: s.url, Err: err}
	log.WithError(err).WithFields(s.LogTags).Errorf("Connection to %s failed", s.url)
	s.lock.Lock()
	s.lastError = streamErr
	s.lock.Unlock()
	s.emit(ctxt, Event{Type: EventError, Conn: info, Err: streamErr})
}

// emit deliver an event, giving up if the context is cancelled
func (s *Subscription) emit(ctxt context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctxt.Done():
		log.WithFields(s.LogTags).Debugf("Dropped %s on cancel", event)
	}
}

// emitFinal deliver the last event after the context is cancelled
func (s *Subscription) emitFinal(event Event) {
	select {
	case s.events <- event:
	case <-time.After(closeEventGrace):
		log.WithFields(s.LogTags).Debugf("Dropped %s, no reader", event)
	}
}
