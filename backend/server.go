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
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/suburb/common"
	"github.com/apex/log"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// BuildRouter define the routes of the development backend
func BuildRouter(httpHandler APIRestHandler) *mux.Router {
	router := mux.NewRouter().UseEncodedPath()
	router.Use(httpHandler.attachRequestID, httpHandler.authorize)

	// Namespaces
	_ = RegisterPathPrefix(router, "/namespaces", MethodHandlers{
		"get":  httpHandler.ListNamespaces,
		"post": httpHandler.CreateNamespace,
	})
	_ = RegisterPathPrefix(router, "/namespaces/{namespace}", MethodHandlers{
		"delete": httpHandler.DeleteNamespace,
	})

	// Queues
	queuesRouter := RegisterPathPrefix(router, "/queues/{namespace}", MethodHandlers{
		"get":  httpHandler.ListQueues,
		"post": httpHandler.CreateQueue,
	})
	queueRouter := RegisterPathPrefix(queuesRouter, "/{queue}", MethodHandlers{
		"post":   httpHandler.PushMessage,
		"delete": httpHandler.DeleteQueue,
	})
	_ = RegisterPathPrefix(queueRouter, "/peek", MethodHandlers{
		"get": httpHandler.PeekMessage,
	})
	_ = RegisterPathPrefix(queueRouter, "/pop", MethodHandlers{
		"post": httpHandler.PopMessage,
	})
	_ = RegisterPathPrefix(queueRouter, "/length", MethodHandlers{
		"get": httpHandler.QueueLength,
	})

	// Feature flags
	flagsRouter := RegisterPathPrefix(router, "/flags/{namespace}", MethodHandlers{
		"get": httpHandler.ListFlags,
	})
	_ = RegisterPathPrefix(flagsRouter, "/{flag}", MethodHandlers{
		"get":    httpHandler.GetFlag,
		"post":   httpHandler.SetFlag,
		"delete": httpHandler.DeleteFlag,
	})

	// Logs
	_ = RegisterPathPrefix(router, "/logs/{namespace}", MethodHandlers{
		"get":  httpHandler.ListLogs,
		"post": httpHandler.AddLog,
	})

	// Pub/Sub
	channelRouter := router.PathPrefix("/pubsub/{channel}").Subrouter()
	_ = RegisterPathPrefix(channelRouter, "/publish", MethodHandlers{
		"post": httpHandler.Publish,
	})
	_ = RegisterPathPrefix(channelRouter, "/listen", MethodHandlers{
		"get": httpHandler.Listen,
	})

	return router
}

// RunDevServer run the in-memory development backend until the context is cancelled
func RunDevServer(
	runTimeContext context.Context, config common.DevServerConfig, instance string,
) error {
	logTags := log.Fields{
		"module":    "backend",
		"component": "dev-server",
		"instance":  instance,
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()
	httpHandler, err := GetAPIRestHandler(localCtxt, NewMemoryStore(), &config)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	serverListen := fmt.Sprintf("%s:%d", config.Server.ListenOn, config.Server.Port)
	httpSrv := &http.Server{
		Addr:         serverListen,
		ReadTimeout:  time.Second * time.Duration(config.Server.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(config.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(config.Server.IdleTimeout),
		Handler:      h2c.NewHandler(BuildRouter(httpHandler), &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	serveErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithFields(logTags).Error("HTTP Server Failure")
			serveErr <- err
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	select {
	case <-runTimeContext.Done():
	case err := <-serveErr:
		return err
	}

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during HTTP shutdown")
			return err
		}
	}

	return nil
}
