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

package relay

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/pubsub"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
)

// NATSConnectParams NATS connection parameters
type NATSConnectParams struct {
	// ServerURI NATS server URI
	ServerURI string `validate:"required,uri"`
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
	// MaxReconnectAttempt on connection failure, max number of reconnect
	// attempt. "-1" means infinite
	MaxReconnectAttempt int
	// ReconnectWait wait duration between reconnect attempts
	ReconnectWait time.Duration
	// OnDisconnectCallback callback on disconnect
	OnDisconnectCallback func(*nats.Conn, error)
	// OnReconnectCallback callback on reconnect
	OnReconnectCallback func(*nats.Conn)
	// OnCloseCallback callback on close
	OnCloseCallback func(*nats.Conn)
}

// ConnectParamsFromConfig convert common.NATSConfig into NATSConnectParams, logging
// connection events with the given tags
func ConnectParamsFromConfig(config common.NATSConfig, logTags log.Fields) NATSConnectParams {
	return NATSConnectParams{
		ServerURI:           config.ServerURI,
		ConnectTimeout:      time.Second * time.Duration(config.ConnectTimeout),
		MaxReconnectAttempt: config.Reconnect.MaxAttempts,
		ReconnectWait:       time.Second * time.Duration(config.Reconnect.WaitInterval),
		OnDisconnectCallback: func(_ *nats.Conn, e error) {
			if e != nil {
				log.WithError(e).WithFields(logTags).Errorf(
					"NATS client disconnected from server %s", config.ServerURI,
				)
			}
		},
		OnReconnectCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Warnf("NATS client reconnected with server %s", config.ServerURI)
		},
		OnCloseCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Info("NATS client closed connection")
		},
	}
}

// NATSRelay republishes the messages of pub/sub channels onto NATS subjects
type NATSRelay struct {
	common.Component
	nc            *nats.Conn
	subjectPrefix string
	forwarded     uint64
}

// DefineNATSRelay connect to NATS and define a new NATSRelay
func DefineNATSRelay(param NATSConnectParams, subjectPrefix string) (*NATSRelay, error) {
	validate := validator.New()
	if err := validate.Struct(&param); err != nil {
		return nil, err
	}
	if subjectPrefix == "" {
		return nil, fmt.Errorf("relay subject prefix is empty")
	}
	logTags := log.Fields{
		"module":    "relay",
		"component": "nats-relay",
		"instance":  param.ServerURI,
	}
	nc, err := nats.Connect(
		param.ServerURI,
		nats.Timeout(param.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(param.MaxReconnectAttempt),
		nats.ReconnectWait(param.ReconnectWait),
		nats.DisconnectErrHandler(param.OnDisconnectCallback),
		nats.ReconnectHandler(param.OnReconnectCallback),
		nats.ClosedHandler(param.OnCloseCallback),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("NATS client connect failed")
		return nil, err
	}
	log.WithFields(logTags).Info("Created NATS client")
	return &NATSRelay{
		Component:     common.Component{LogTags: logTags},
		nc:            nc,
		subjectPrefix: subjectPrefix,
	}, nil
}

// flushTimeout bound on the flush when closing the relay
const flushTimeout = time.Second * 5

// subjectReplacer NATS subject tokens may not carry whitespace or wildcards
var subjectReplacer = strings.NewReplacer(" ", "_", "\t", "_", "*", "_", ">", "_")

// Subject the NATS subject a channel is relayed to
func (r *NATSRelay) Subject(channel string) string {
	return fmt.Sprintf("%s.%s", r.subjectPrefix, subjectReplacer.Replace(channel))
}

// Forwarded the number of messages relayed so far
func (r *NATSRelay) Forwarded() uint64 {
	return atomic.LoadUint64(&r.forwarded)
}

// Run relay the messages of a subscription until its context is cancelled. The
// subscription is run by the relay.
func (r *NATSRelay) Run(ctxt context.Context, sub *pubsub.Subscription) error {
	subject := r.Subject(sub.Channel())
	log.WithFields(r.LogTags).Infof("Relaying '%s' to %s", sub.Channel(), subject)
	return pubsub.Listen(ctxt, sub, pubsub.Callbacks{
		OnOpen: func(conn pubsub.ConnectionInfo) error {
			log.WithFields(r.LogTags).Infof("Stream #%d on '%s' open", conn.Sequence, conn.Channel)
			return nil
		},
		OnMessage: func(_ pubsub.ConnectionInfo, payload []byte) error {
			if err := r.nc.Publish(subject, payload); err != nil {
				return fmt.Errorf("publish to %s failed: %w", subject, err)
			}
			atomic.AddUint64(&r.forwarded, 1)
			return nil
		},
		OnError: func(conn pubsub.ConnectionInfo, err error) error {
			log.WithError(err).WithFields(r.LogTags).Warnf("Stream on '%s' failed", conn.Channel)
			return nil
		},
		OnClose: func(conn pubsub.ConnectionInfo, code int, reason string) error {
			log.WithFields(r.LogTags).Infof(
				"Stream #%d on '%s' closed: %d %s", conn.Sequence, conn.Channel, code, reason,
			)
			return nil
		},
	})
}

// Close flush pending messages and close the NATS connection. The flush is bounded
// by flushTimeout if the context carries no deadline.
func (r *NATSRelay) Close(ctxt context.Context) {
	if _, ok := ctxt.Deadline(); !ok {
		var cancel context.CancelFunc
		ctxt, cancel = context.WithTimeout(ctxt, flushTimeout)
		defer cancel()
	}
	if err := r.nc.FlushWithContext(ctxt); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("NATS flush failed")
	}
	r.nc.Close()
	log.WithFields(r.LogTags).Infof("Close NATS client")
}
