package client

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/core"
	"github.com/alwitt/suburb/pubsub"
)

// SubscriptionDefaults are applied to every subscription created by a Client
type SubscriptionDefaults struct {
	// ReconnectWait is the fixed delay between reconnect attempts
	ReconnectWait time.Duration
	// HandshakeTimeout bounds the streaming handshake
	HandshakeTimeout time.Duration
	// EventBuffer is the depth of the event channel
	EventBuffer int
}

// DefaultSubscriptionDefaults reconnect every 5 seconds
func DefaultSubscriptionDefaults() SubscriptionDefaults {
	return SubscriptionDefaults{
		ReconnectWait: time.Second * 5, HandshakeTimeout: time.Second * 30, EventBuffer: 16,
	}
}

// Client the backend client: a namespace session, the resource facades scoped by
// that session, and channel publish / listen
type Client struct {
	*NamespaceSession
	Queues QueueFacade
	Flags  FlagFacade
	Logs   LogFacade

	executor     core.Executor
	publisher    pubsub.Publisher
	subscription SubscriptionDefaults
}

// DefineClientWithExecutor define a new Client issuing calls through an Executor.
// Subscribe and Listen need the executor to also be a pubsub.Endpoint.
func DefineClientWithExecutor(
	executor core.Executor, subscription SubscriptionDefaults,
) *Client {
	session := DefineNamespaceSession(executor)
	return &Client{
		NamespaceSession: session,
		Queues:           QueueFacade{session: session, executor: executor},
		Flags:            FlagFacade{session: session, executor: executor},
		Logs:             LogFacade{session: session, executor: executor},
		executor:         executor,
		publisher:        pubsub.DefinePublisher(executor),
		subscription:     subscription,
	}
}

// DefineClient define a new Client from configuration
func DefineClient(
	config common.ClientConfig, subscription common.SubscriptionConfig,
) (*Client, error) {
	executor, err := core.DefineRequestExecutor(core.RequestExecutorParams{
		Host:            config.Host,
		APIKey:          config.APIKey,
		RequestIDHeader: config.RequestIDHeader,
		Client: core.BuildHTTPClient(core.HTTPTransportParams{
			RequestTimeout:      time.Second * time.Duration(config.RequestTimeout),
			HTTP2PriorKnowledge: config.HTTP2PriorKnowledge,
		}),
	})
	if err != nil {
		return nil, err
	}
	return DefineClientWithExecutor(executor, SubscriptionDefaults{
		ReconnectWait:    time.Second * time.Duration(subscription.ReconnectWait),
		HandshakeTimeout: time.Second * time.Duration(subscription.HandshakeTimeout),
		EventBuffer:      subscription.EventBuffer,
	}), nil
}

// Publish publish a message on a channel. Not namespace scoped.
func (c *Client) Publish(ctxt context.Context, channel string, message string) error {
	return c.publisher.Publish(ctxt, channel, message)
}

// Subscribe define a subscription on a channel. The subscription is Idle until run.
func (c *Client) Subscribe(
	channel string, observer pubsub.StateObserver,
) (*pubsub.Subscription, error) {
	endpoint, ok := c.executor.(pubsub.Endpoint)
	if !ok {
		return nil, fmt.Errorf("executor %T can not describe the streaming endpoint", c.executor)
	}
	return pubsub.DefineSubscription(pubsub.SubscriptionParams{
		Host:             endpoint.Host(),
		Channel:          channel,
		Headers:          endpoint.AuthHeaders(),
		ReconnectWait:    c.subscription.ReconnectWait,
		HandshakeTimeout: c.subscription.HandshakeTimeout,
		EventBuffer:      c.subscription.EventBuffer,
		StateObserver:    observer,
	})
}

// Listen subscribe to a channel and feed its events to the hooks until the context
// is cancelled
func (c *Client) Listen(
	ctxt context.Context, channel string, callbacks pubsub.Callbacks,
) error {
	sub, err := c.Subscribe(channel, nil)
	if err != nil {
		return err
	}
	return pubsub.Listen(ctxt, sub, callbacks)
}
