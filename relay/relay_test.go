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
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alwitt/suburb/backend"
	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/core"
	"github.com/alwitt/suburb/pubsub"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

const testAPIKey = "ut-relay-key"

// startNATSServer run an embedded NATS server on a random port
func startNATSServer(t *testing.T) *server.Server {
	ns, err := server.NewServer(&server.Options{
		Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true,
	})
	assert.Nil(t, err)
	go ns.Start()
	assert.True(t, ns.ReadyForConnections(time.Second*5))
	return ns
}

func TestMain(m *testing.M) {
	log.SetLevel(log.DebugLevel)
	os.Exit(m.Run())
}

func TestRelaySubject(t *testing.T) {
	assert := assert.New(t)

	ns := startNATSServer(t)
	defer ns.Shutdown()

	_, err := DefineNATSRelay(NATSConnectParams{ServerURI: ns.ClientURL()}, "")
	assert.NotNil(err)
	_, err = DefineNATSRelay(NATSConnectParams{}, "suburb")
	assert.NotNil(err)

	uut, err := DefineNATSRelay(NATSConnectParams{
		ServerURI: ns.ClientURL(), ConnectTimeout: time.Second, ReconnectWait: time.Second,
	}, "suburb")
	assert.Nil(err)
	defer uut.Close(context.Background())

	assert.Equal("suburb.news", uut.Subject("news"))
	assert.Equal("suburb.eu.orders", uut.Subject("eu.orders"))
	assert.Equal("suburb.big_news_", uut.Subject("big news*"))
}

func TestRelayForwarding(t *testing.T) {
	assert := assert.New(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	ns := startNATSServer(t)
	defer ns.Shutdown()

	handler, err := backend.GetAPIRestHandler(utCtxt, backend.NewMemoryStore(), &common.DevServerConfig{
		Logging: common.HTTPRequestLogging{RequestIDHeader: "Suburb-Request-ID"},
		APIKeys: []string{testAPIKey},
	})
	assert.Nil(err)
	httpServer := httptest.NewServer(backend.BuildRouter(handler))
	defer httpServer.Close()

	logTags := log.Fields{"module": "relay_test", "component": "forwarding"}
	uut, err := DefineNATSRelay(
		ConnectParamsFromConfig(common.NATSConfig{
			ServerURI:      ns.ClientURL(),
			ConnectTimeout: 1,
			Reconnect:      common.NATSReconnectConfig{MaxAttempts: 0, WaitInterval: 1},
		}, logTags),
		"ut",
	)
	assert.Nil(err)
	defer uut.Close(utCtxt)

	// Observer on the relayed subjects
	observer, err := nats.Connect(ns.ClientURL())
	assert.Nil(err)
	defer observer.Close()
	relayed := make(chan *nats.Msg, 4)
	natsSub, err := observer.ChanSubscribe("ut.>", relayed)
	assert.Nil(err)
	defer func() {
		_ = natsSub.Unsubscribe()
	}()
	assert.Nil(observer.Flush())

	channel := uuid.NewString()
	headers := http.Header{}
	headers.Set("Authorization", testAPIKey)
	sub, err := pubsub.DefineSubscription(pubsub.SubscriptionParams{
		Host: httpServer.URL, Channel: channel, Headers: headers, ReconnectWait: time.Second,
	})
	assert.Nil(err)

	relayCtxt, relayCancel := context.WithCancel(utCtxt)
	defer relayCancel()
	relayResult := make(chan error, 1)
	go func() {
		relayResult <- uut.Run(relayCtxt, sub)
	}()
	assert.Eventually(func() bool {
		return handler.ListenerCount(channel) == 1
	}, time.Second*5, time.Millisecond*10)

	executor, err := core.DefineRequestExecutor(core.RequestExecutorParams{
		Host: httpServer.URL, APIKey: testAPIKey, Client: &http.Client{Timeout: time.Second * 5},
	})
	assert.Nil(err)
	publisher := pubsub.DefinePublisher(executor)
	for _, msg := range []string{"one", "two"} {
		assert.Nil(publisher.Publish(utCtxt, channel, msg))
	}

	for _, expected := range []string{"one", "two"} {
		select {
		case msg := <-relayed:
			assert.Equal("ut."+channel, msg.Subject)
			assert.Equal(expected, string(msg.Data))
		case <-time.After(time.Second * 5):
			assert.Fail("message not relayed")
		}
	}
	assert.Eventually(func() bool {
		return uut.Forwarded() == 2
	}, time.Second, time.Millisecond*10)

	relayCancel()
	select {
	case err := <-relayResult:
		assert.Nil(err)
	case <-time.After(time.Second * 5):
		assert.Fail("relay did not stop")
	}
}
