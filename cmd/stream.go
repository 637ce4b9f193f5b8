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

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/alwitt/suburb/client"
	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/pubsub"
	"github.com/alwitt/suburb/relay"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"
)

// StreamCLIArgs arguments of the channel streaming commands
type StreamCLIArgs struct {
	Channel string `validate:"required"`
	Verbose bool
}

// GetStreamCLIFlags retrieve the set of CMD flags for channel streaming commands
func GetStreamCLIFlags(args *StreamCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "channel",
			Usage:       "Pub/Sub channel",
			Aliases:     []string{"ch"},
			EnvVars:     []string{"SUBURB_CHANNEL"},
			Destination: &args.Channel,
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Usage:       "Report connection state transitions",
			Aliases:     []string{"v"},
			Value:       false,
			DefaultText: "false",
			Destination: &args.Verbose,
			Required:    false,
		},
	}
}

// RunPublish publish one message on a channel
func RunPublish(
	ctxt context.Context, c *client.Client, params StreamCLIArgs, message string,
) error {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return err
	}
	return c.Publish(ctxt, params.Channel, message)
}

// RunListen print the messages of a channel until the context is cancelled
func RunListen(
	ctxt context.Context, c *client.Client, params StreamCLIArgs, instance string, out io.Writer,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "listen",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}

	var observer pubsub.StateObserver
	if params.Verbose {
		observer = func(channel string, state pubsub.ConnectionState) {
			log.WithFields(logTags).Infof("'%s' is %s", channel, state)
		}
	}
	sub, err := c.Subscribe(params.Channel, observer)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription")
		return err
	}

	return pubsub.Listen(ctxt, sub, pubsub.Callbacks{
		OnMessage: func(_ pubsub.ConnectionInfo, payload []byte) error {
			_, err := fmt.Fprintf(out, "%s\n", payload)
			return err
		},
		OnError: func(conn pubsub.ConnectionInfo, err error) error {
			log.WithError(err).WithFields(logTags).Warnf("Connection #%d failed", conn.Sequence)
			return nil
		},
		OnClose: func(conn pubsub.ConnectionInfo, code int, reason string) error {
			log.WithFields(logTags).Infof("Connection #%d closed: %d %s", conn.Sequence, code, reason)
			return nil
		},
	})
}

// RunRelay relay the messages of a channel onto NATS until the context is cancelled
func RunRelay(
	ctxt context.Context,
	c *client.Client,
	params StreamCLIArgs,
	config common.RelayConfig,
	instance string,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "relay",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}

	natsRelay, err := relay.DefineNATSRelay(
		relay.ConnectParamsFromConfig(config.NATS, logTags), config.SubjectPrefix,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to define NATS client with %s", config.NATS.ServerURI,
		)
		return err
	}
	defer natsRelay.Close(context.Background())

	sub, err := c.Subscribe(params.Channel, nil)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription")
		return err
	}

	err = natsRelay.Run(ctxt, sub)
	log.WithFields(logTags).Infof("Relayed %d messages", natsRelay.Forwarded())
	return err
}
