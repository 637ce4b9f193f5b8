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
	"fmt"
	"net/url"
	"strings"
)

// ConnectionState state of a subscription's streaming connection
type ConnectionState int

const (
	// Idle subscription defined but not running
	Idle ConnectionState = iota
	// Connecting streaming handshake in progress
	Connecting
	// Open streaming connection established
	Open
	// Reconnecting waiting out the reconnect delay after a connection loss
	Reconnecting
	// Closed subscription stopped by its owner
	Closed
)

// String toString function
func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EventType type of a subscription event
type EventType int

const (
	// EventOpened a streaming connection was established
	EventOpened EventType = iota
	// EventMessage a message frame was received
	EventMessage
	// EventError the streaming connection failed
	EventError
	// EventClosed the streaming connection closed
	EventClosed
)

// String toString function
func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ConnectionInfo identifies one streaming connection of a subscription
type ConnectionInfo struct {
	// Channel is the subscribed channel
	Channel string
	// Sequence counts the connections established by the subscription, starting at 1.
	// It is 0 for failures before the first connection was established.
	Sequence int
}

// Event one occurrence on a subscription
type Event struct {
	Type EventType
	Conn ConnectionInfo
	// Payload is the message body of an EventMessage
	Payload []byte
	// Err is the common.StreamError of an EventError
	Err error
	// Code is the close code of an EventClosed
	Code int
	// Reason is the close reason of an EventClosed
	Reason string
}

// String toString function
func (e Event) String() string {
	switch e.Type {
	case EventMessage:
		return fmt.Sprintf("%s#%d:%s[%dB]", e.Conn.Channel, e.Conn.Sequence, e.Type, len(e.Payload))
	case EventError:
		return fmt.Sprintf("%s#%d:%s[%s]", e.Conn.Channel, e.Conn.Sequence, e.Type, e.Err)
	case EventClosed:
		return fmt.Sprintf(
			"%s#%d:%s[%d %s]", e.Conn.Channel, e.Conn.Sequence, e.Type, e.Code, e.Reason,
		)
	default:
		return fmt.Sprintf("%s#%d:%s", e.Conn.Channel, e.Conn.Sequence, e.Type)
	}
}

// StreamURL the listen URL of a channel, derived from the backend HTTP host by
// switching "http" to "ws" and "https" to "wss"
func StreamURL(host string, channel string) (string, error) {
	parsed, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme '%s' in host '%s'", parsed.Scheme, host)
	}
	basePath := parsed.Path
	baseRawPath := parsed.EscapedPath()
	parsed.Path = fmt.Sprintf("%s/pubsub/%s/listen", basePath, channel)
	parsed.RawPath = fmt.Sprintf("%s/pubsub/%s/listen", baseRawPath, url.PathEscape(channel))
	return parsed.String(), nil
}
