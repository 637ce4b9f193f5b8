package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/suburb/backend"
	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/core"
	"github.com/alwitt/suburb/pubsub"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

const testAPIKey = "ut-client-key"

// countingExecutor records every call and replies with a fixed payload
type countingExecutor struct {
	lock    sync.Mutex
	calls   []string
	payload json.RawMessage
}

func (e *countingExecutor) Execute(
	_ context.Context, method string, path string, _ interface{},
) (json.RawMessage, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.calls = append(e.calls, method+" "+path)
	return e.payload, nil
}

func (e *countingExecutor) callCount() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.calls)
}

func defineTestBackend(t *testing.T, ctxt context.Context) (*httptest.Server, backend.APIRestHandler) {
	handler, err := backend.GetAPIRestHandler(ctxt, backend.NewMemoryStore(), &common.DevServerConfig{
		Logging: common.HTTPRequestLogging{RequestIDHeader: "Suburb-Request-ID"},
		APIKeys: []string{testAPIKey},
	})
	assert.Nil(t, err)
	return httptest.NewServer(backend.BuildRouter(handler)), handler
}

func defineTestClient(t *testing.T, host string) *Client {
	uut, err := DefineClient(
		common.ClientConfig{
			Host:            host,
			APIKey:          testAPIKey,
			RequestTimeout:  5,
			RequestIDHeader: "Suburb-Request-ID",
		},
		common.SubscriptionConfig{ReconnectWait: 1, HandshakeTimeout: 5, EventBuffer: 16},
	)
	assert.Nil(t, err)
	return uut
}

func TestMain(m *testing.M) {
	log.SetLevel(log.DebugLevel)
	os.Exit(m.Run())
}

func TestNamespaceGating(t *testing.T) {
	assert := assert.New(t)

	utCtxt := context.Background()
	executor := &countingExecutor{payload: json.RawMessage(`[]`)}
	uut := DefineClientWithExecutor(executor, DefaultSubscriptionDefaults())

	checkGated := func(err error) {
		assert.NotNil(err)
		var gated common.NamespaceNotSelectedError
		assert.True(errors.As(err, &gated), err)
	}

	// Case 0: every scoped operation fails without a selection
	{
		_, err := uut.Queues.List(utCtxt)
		checkGated(err)
		_, err = uut.Queues.Create(utCtxt, "jobs")
		checkGated(err)
		checkGated(uut.Queues.Delete(utCtxt, "jobs"))
		checkGated(uut.Queues.Push(utCtxt, "jobs", "job-1"))
		_, err = uut.Queues.Peek(utCtxt, "jobs")
		checkGated(err)
		_, err = uut.Queues.Pop(utCtxt, "jobs")
		checkGated(err)
		_, err = uut.Queues.Length(utCtxt, "jobs")
		checkGated(err)
		_, err = uut.Flags.List(utCtxt)
		checkGated(err)
		_, err = uut.Flags.Get(utCtxt, "beta")
		checkGated(err)
		checkGated(uut.Flags.Set(utCtxt, "beta", true))
		checkGated(uut.Flags.Delete(utCtxt, "beta"))
		_, err = uut.Logs.List(utCtxt)
		checkGated(err)
		checkGated(uut.Logs.Add(utCtxt, "ut", "info", "hello"))
		assert.Equal(0, executor.callCount())
	}

	// Case 1: selecting an unknown namespace
	{
		err := uut.SelectNamespace(utCtxt, "prod")
		assert.NotNil(err)
		var notFound common.NamespaceNotFoundError
		assert.True(errors.As(err, &notFound))
		assert.Equal("prod", notFound.Namespace)
		assert.Equal(1, executor.callCount())
		_, ok := uut.SelectedNamespace()
		assert.False(ok)
	}

	// Case 2: selecting a known namespace
	{
		executor.payload = json.RawMessage(`[{"name":"prod"},{"name":"dev"}]`)
		assert.Nil(uut.SelectNamespace(utCtxt, "prod"))
		selected, ok := uut.SelectedNamespace()
		assert.True(ok)
		assert.Equal("prod", selected)

		executor.payload = json.RawMessage(`3`)
		length, err := uut.Queues.Length(utCtxt, "a/b")
		assert.Nil(err)
		assert.Equal(3, length)
		assert.Equal("GET /queues/prod/a%2Fb/length", executor.calls[len(executor.calls)-1])
	}

	// Case 3: flag payload shapes
	{
		for payload, expected := range map[string]bool{
			`true`: true, `false`: false, `null`: false, `{}`: false, `{"value": true}`: true,
		} {
			executor.payload = json.RawMessage(payload)
			value, err := uut.Flags.Get(utCtxt, "beta")
			assert.Nil(err, payload)
			assert.Equal(expected, value, payload)
		}
		executor.payload = json.RawMessage(`"yes"`)
		_, err := uut.Flags.Get(utCtxt, "beta")
		assert.NotNil(err)
		var decodeErr common.DecodeError
		assert.True(errors.As(err, &decodeErr))
	}

	// Case 4: clearing the selection gates again
	{
		uut.ClearSelection()
		before := executor.callCount()
		_, err := uut.Logs.List(utCtxt)
		checkGated(err)
		assert.Equal(before, executor.callCount())
	}
}

func TestClientAgainstBackend(t *testing.T) {
	assert := assert.New(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	server, _ := defineTestBackend(t, utCtxt)
	defer server.Close()
	uut := defineTestClient(t, server.URL+"/")

	// Case 0: namespace life cycle
	{
		created, err := uut.CreateNamespace(utCtxt, "prod")
		assert.Nil(err)
		assert.Equal("prod", created.Name)

		_, err = uut.CreateNamespace(utCtxt, "prod")
		assert.NotNil(err)
		var transportErr common.TransportError
		assert.True(errors.As(err, &transportErr))
		assert.Equal(409, transportErr.StatusCode)

		namespaces, err := uut.ListNamespaces(utCtxt)
		assert.Nil(err)
		assert.Equal([]common.Namespace{{Name: "prod"}}, namespaces)

		assert.Nil(uut.SelectNamespace(utCtxt, "prod"))
	}

	// Case 1: queue scenario
	{
		queue, err := uut.Queues.Create(utCtxt, "jobs")
		assert.Nil(err)
		assert.Equal("jobs", queue.Name)

		queues, err := uut.Queues.List(utCtxt)
		assert.Nil(err)
		assert.Equal([]common.Queue{{Name: "jobs"}}, queues)

		empty, err := uut.Queues.Pop(utCtxt, "jobs")
		assert.Nil(err)
		assert.Equal("", empty)

		assert.Nil(uut.Queues.Push(utCtxt, "jobs", "job-1"))
		length, err := uut.Queues.Length(utCtxt, "jobs")
		assert.Nil(err)
		assert.Equal(1, length)

		for i := 0; i < 2; i++ {
			head, err := uut.Queues.Peek(utCtxt, "jobs")
			assert.Nil(err)
			assert.Equal("job-1", head)
		}
		length, err = uut.Queues.Length(utCtxt, "jobs")
		assert.Nil(err)
		assert.Equal(1, length)

		msg, err := uut.Queues.Pop(utCtxt, "jobs")
		assert.Nil(err)
		assert.Equal("job-1", msg)
		length, err = uut.Queues.Length(utCtxt, "jobs")
		assert.Nil(err)
		assert.Equal(0, length)

		// FIFO order
		for _, m := range []string{"first", "second"} {
			assert.Nil(uut.Queues.Push(utCtxt, "jobs", m))
		}
		msg, err = uut.Queues.Pop(utCtxt, "jobs")
		assert.Nil(err)
		assert.Equal("first", msg)

		assert.Nil(uut.Queues.Delete(utCtxt, "jobs"))
		_, err = uut.Queues.Length(utCtxt, "jobs")
		var transportErr common.TransportError
		assert.True(errors.As(err, &transportErr))
		assert.Equal(404, transportErr.StatusCode)
	}

	// Case 2: flag scenario
	{
		value, err := uut.Flags.Get(utCtxt, "beta")
		assert.Nil(err)
		assert.False(value)

		assert.Nil(uut.Flags.Set(utCtxt, "beta", true))
		value, err = uut.Flags.Get(utCtxt, "beta")
		assert.Nil(err)
		assert.True(value)

		flags, err := uut.Flags.List(utCtxt)
		assert.Nil(err)
		assert.Equal([]common.FeatureFlag{{Name: "beta", Value: true}}, flags)

		assert.Nil(uut.Flags.Delete(utCtxt, "beta"))
		value, err = uut.Flags.Get(utCtxt, "beta")
		assert.Nil(err)
		assert.False(value)
	}

	// Case 3: logs
	{
		assert.Nil(uut.Logs.Add(utCtxt, "ut", "info", "hello"))
		assert.Nil(uut.Logs.Add(utCtxt, "ut", "error", "world"))
		entries, err := uut.Logs.List(utCtxt)
		assert.Nil(err)
		assert.Len(entries, 2)
		assert.Equal("hello", entries[0].Message)
		assert.Equal("error", entries[1].Level)
		assert.WithinDuration(time.Now(), entries[1].CreatedAt, time.Minute)
	}

	// Case 4: deleting the selected namespace clears the selection
	{
		assert.Nil(uut.DeleteNamespace(utCtxt, "prod"))
		_, ok := uut.SelectedNamespace()
		assert.False(ok)
		_, err := uut.Queues.List(utCtxt)
		var gated common.NamespaceNotSelectedError
		assert.True(errors.As(err, &gated))
	}

	// Case 5: wrong API key
	{
		other, err := DefineClient(
			common.ClientConfig{Host: server.URL, APIKey: "wrong", RequestIDHeader: "Suburb-Request-ID"},
			common.SubscriptionConfig{ReconnectWait: 1, HandshakeTimeout: 5},
		)
		assert.Nil(err)
		_, err = other.ListNamespaces(utCtxt)
		var transportErr common.TransportError
		assert.True(errors.As(err, &transportErr))
		assert.Equal(401, transportErr.StatusCode)
	}
}

func TestClientPublishListen(t *testing.T) {
	assert := assert.New(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	server, handler := defineTestBackend(t, utCtxt)
	defer server.Close()
	uut := defineTestClient(t, server.URL)

	channel := uuid.NewString()
	opened := make(chan pubsub.ConnectionInfo, 1)
	received := make(chan string, 4)

	listenCtxt, listenCancel := context.WithCancel(utCtxt)
	defer listenCancel()
	listenResult := make(chan error, 1)
	go func() {
		listenResult <- uut.Listen(listenCtxt, channel, pubsub.Callbacks{
			OnOpen: func(conn pubsub.ConnectionInfo) error {
				opened <- conn
				return nil
			},
			OnMessage: func(_ pubsub.ConnectionInfo, payload []byte) error {
				received <- string(payload)
				return nil
			},
		})
	}()

	select {
	case conn := <-opened:
		assert.Equal(channel, conn.Channel)
	case <-time.After(time.Second * 5):
		assert.Fail("subscription never opened")
	}
	assert.Eventually(func() bool {
		return handler.ListenerCount(channel) == 1
	}, time.Second, time.Millisecond*10)

	// Publishing does not need a namespace
	assert.Nil(uut.Publish(utCtxt, channel, "hello"))
	select {
	case msg := <-received:
		assert.Equal("hello", msg)
	case <-time.After(time.Second * 5):
		assert.Fail("message never delivered")
	}

	listenCancel()
	select {
	case err := <-listenResult:
		assert.Nil(err)
	case <-time.After(time.Second * 5):
		assert.Fail("listen did not return after cancel")
	}
	assert.Eventually(func() bool {
		return handler.ListenerCount(channel) == 0
	}, time.Second*5, time.Millisecond*10)
}

func TestClientWithoutEndpoint(t *testing.T) {
	assert := assert.New(t)
	uut := DefineClientWithExecutor(&countingExecutor{}, DefaultSubscriptionDefaults())
	_, err := uut.Subscribe("news", nil)
	assert.NotNil(err)
	_, ok := interface{}(&core.RequestExecutor{}).(pubsub.Endpoint)
	assert.True(ok)
}
