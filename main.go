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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"

	"github.com/alwitt/suburb/backend"
	"github.com/alwitt/suburb/client"
	"github.com/alwitt/suburb/cmd"
	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/logfwd"
	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	JSONLog     bool
	LogLevel    string `validate:"required,oneof=debug info warn error"`
	ConfigFile  string `validate:"omitempty,file"`
	Host        string `validate:"omitempty,url"`
	APIKey      string `json:"-"`
	ForwardLogs string
	Hostname    string
}

var cmdArgs cliArgs

var logTags log.Fields

func main() {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Fatal("Unable to read hostname")
	}
	cmdArgs.Hostname = hostname
	logTags = log.Fields{
		"module":    "main",
		"component": "main",
		"instance":  hostname,
	}

	common.InstallDefaultConfigValues()

	var scope cmd.ScopedCLIArgs
	var stream cmd.StreamCLIArgs

	app := &cli.App{
		Version:     "v0.1.0",
		Usage:       "suburb backend client",
		Description: "Namespaces, queues, feature flags, logs, and pub/sub channels of a suburb backend",
		Flags: []cli.Flag{
			// LOGGING
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				DefaultText: "false",
				Destination: &cmdArgs.JSONLog,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "warn",
				DefaultText: "warn",
				Destination: &cmdArgs.LogLevel,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "forward-logs",
				Usage:       "Forward this program's logs to the log store of this namespace",
				EnvVars:     []string{"SUBURB_FORWARD_LOGS"},
				Value:       "",
				DefaultText: "",
				Destination: &cmdArgs.ForwardLogs,
				Required:    false,
			},
			// Config file
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "Application config file. Use DEFAULT if not specified.",
				Aliases:     []string{"c"},
				EnvVars:     []string{"CONFIG_FILE"},
				Value:       "",
				DefaultText: "",
				Destination: &cmdArgs.ConfigFile,
				Required:    false,
			},
			// Backend
			&cli.StringFlag{
				Name:        "host",
				Usage:       "Backend base URL. Overrides the config file.",
				EnvVars:     []string{"SUBURB_HOST"},
				Value:       "",
				DefaultText: "",
				Destination: &cmdArgs.Host,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "api-key",
				Usage:       "Backend API key. Overrides the config file.",
				EnvVars:     []string{"SUBURB_API_KEY"},
				Value:       "",
				DefaultText: "",
				Destination: &cmdArgs.APIKey,
				Required:    false,
			},
		},
		// Components
		Commands: []*cli.Command{
			{
				Name:  "namespace",
				Usage: "Manage namespaces",
				Subcommands: operationCommands(map[string]string{
					"list":   "List namespaces",
					"create": "Create a namespace: <name>",
					"delete": "Delete a namespace: <name>",
				}, namespaceAction, nil),
			},
			{
				Name:  "queue",
				Usage: "Operate on the queues of a namespace",
				Subcommands: operationCommands(map[string]string{
					"list":   "List queues",
					"create": "Create a queue: <queue>",
					"delete": "Delete a queue: <queue>",
					"push":   "Append a message: <queue> <message>",
					"peek":   "Read the head message: <queue>",
					"pop":    "Remove the head message: <queue>",
					"length": "Number of messages: <queue>",
				}, scopedAction(&scope, cmd.RunQueueCommand), cmd.GetScopedCLIFlags(&scope)),
			},
			{
				Name:  "flag",
				Usage: "Operate on the feature flags of a namespace",
				Subcommands: operationCommands(map[string]string{
					"list":   "List feature flags",
					"get":    "Read a flag: <flag>",
					"set":    "Set a flag: <flag> <true|false>",
					"delete": "Delete a flag: <flag>",
				}, scopedAction(&scope, cmd.RunFlagCommand), cmd.GetScopedCLIFlags(&scope)),
			},
			{
				Name:  "log",
				Usage: "Operate on the logs of a namespace",
				Subcommands: operationCommands(map[string]string{
					"list": "List log entries",
					"add":  "Append a log entry: <source> <level> <message>",
				}, scopedAction(&scope, cmd.RunLogCommand), cmd.GetScopedCLIFlags(&scope)),
			},
			{
				Name:  "pubsub",
				Usage: "Publish to and listen on pub/sub channels",
				Subcommands: []*cli.Command{
					{
						Name:   "publish",
						Usage:  "Publish a message: <message>",
						Flags:  cmd.GetStreamCLIFlags(&stream),
						Action: publishAction(&stream),
					},
					{
						Name:        "listen",
						Usage:       "Print the messages of a channel until interrupted",
						Description: "Reconnects after every connection loss",
						Flags:       cmd.GetStreamCLIFlags(&stream),
						Action:      listenAction(&stream),
					},
				},
			},
			{
				Name:        "relay",
				Usage:       "Relay the messages of a channel onto NATS",
				Description: "Republishes every message of the channel on subject <prefix>.<channel>",
				Flags:       cmd.GetStreamCLIFlags(&stream),
				Action:      relayAction(&stream),
			},
			{
				Name:        "dev-server",
				Usage:       "Run an in-memory development backend",
				Description: "Serves the backend REST and streaming API from memory",
				Action:      startDevServer,
			},
		},
	}

	err = app.Run(os.Args)
	if err != nil {
		log.WithError(err).WithFields(logTags).Fatal("Program shutdown")
	}
}

// operationCommands define one sub-command per operation
func operationCommands(
	usage map[string]string, action func(op string) cli.ActionFunc, flags []cli.Flag,
) []*cli.Command {
	ops := make([]string, 0, len(usage))
	for op := range usage {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	result := make([]*cli.Command, 0, len(ops))
	for _, op := range ops {
		result = append(result, &cli.Command{
			Name:   op,
			Usage:  usage[op],
			Flags:  flags,
			Action: action(op),
		})
	}
	return result
}

// setupLogging helper function to prepare the app logging
func setupLogging() {
	if cmdArgs.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}
	switch cmdArgs.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
}

// initialCmdArgsProcessing perform initial CMD arg processing
func initialCmdArgsProcessing() (*common.SystemConfig, error) {
	validate := validator.New()
	// Validate command line argument
	if err := validate.Struct(&cmdArgs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return nil, err
	}
	setupLogging()
	tmp, err := json.MarshalIndent(&cmdArgs, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal args")
		return nil, err
	}
	log.Debugf("Starting params\n%s", tmp)
	// Parse the config file
	if len(cmdArgs.ConfigFile) > 0 {
		viper.SetConfigFile(cmdArgs.ConfigFile)
		if err := viper.ReadInConfig(); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Failed to read config file %s", cmdArgs.ConfigFile,
			)
			return nil, err
		}
	}
	var config common.SystemConfig
	if err := viper.Unmarshal(&config); err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to parse config file %s", cmdArgs.ConfigFile,
		)
		return nil, err
	}
	// Command line overrides
	if cmdArgs.Host != "" {
		config.Client.Host = cmdArgs.Host
	}
	if cmdArgs.APIKey != "" {
		config.Client.APIKey = cmdArgs.APIKey
	}
	tmp, err = json.MarshalIndent(&config, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal config files")
		return nil, err
	}
	log.Debugf("Config file\n%s", tmp)
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid config file content")
		return nil, err
	}
	return &config, nil
}

func defineControlVars() (*sync.WaitGroup, context.Context, context.CancelFunc) {
	runTimeContext, rtCancel := context.WithCancel(context.Background())
	return &sync.WaitGroup{}, runTimeContext, rtCancel
}

// signalRecvSetup helper function for setting up the SIG receive handler
func signalRecvSetup(
	wg *sync.WaitGroup, runTimeContext context.Context, ctxtCancel context.CancelFunc,
) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		cc := make(chan os.Signal, 1)
		// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
		// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
		signal.Notify(cc, os.Interrupt)
		defer signal.Stop(cc)
		select {
		case <-cc:
			ctxtCancel()
		case <-runTimeContext.Done():
		}
	}()
}

// clientRuntime everything a client command needs
type clientRuntime struct {
	config  *common.SystemConfig
	client  *client.Client
	ctxt    context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	logsFwd bool
}

// prepareClientRuntime process the args, define the client, and install log forwarding
// if requested
func prepareClientRuntime() (*clientRuntime, error) {
	config, err := initialCmdArgsProcessing()
	if err != nil {
		return nil, err
	}
	suburbClient, err := client.DefineClient(config.Client, config.Subscription)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define client for %s", config.Client.Host)
		return nil, err
	}

	wg, runTimeContext, rtCancel := defineControlVars()
	signalRecvSetup(wg, runTimeContext, rtCancel)
	runtime := &clientRuntime{
		config: config, client: suburbClient, ctxt: runTimeContext, cancel: rtCancel, wg: wg,
	}

	if cmdArgs.ForwardLogs != "" {
		if err := runtime.forwardLogs(cmdArgs.ForwardLogs); err != nil {
			runtime.close()
			return nil, err
		}
	}
	return runtime, nil
}

// forwardLogs send this program's logs to a namespace's log store
func (r *clientRuntime) forwardLogs(namespace string) error {
	forwarder, err := client.DefineClient(r.config.Client, r.config.Subscription)
	if err != nil {
		return err
	}
	if err := forwarder.SelectNamespace(r.ctxt, namespace); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Can not forward logs to '%s'", namespace)
		return err
	}
	level, err := log.ParseLevel(cmdArgs.LogLevel)
	if err != nil {
		return err
	}
	if _, err := logfwd.Install(context.Background(), forwarder.Logs, logfwd.Params{
		Source:     r.config.LogForward.Source,
		Level:      level,
		QueueDepth: r.config.LogForward.QueueDepth,
	}); err != nil {
		return err
	}
	r.logsFwd = true
	return nil
}

// close stop log forwarding and the signal handler
func (r *clientRuntime) close() {
	if r.logsFwd {
		if err := logfwd.Teardown(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Log forwarding teardown failed")
		}
	}
	r.cancel()
	r.wg.Wait()
}

// ============================================================================
// Resource subcommands

// namespaceAction run one namespace operation
func namespaceAction(op string) cli.ActionFunc {
	return func(c *cli.Context) error {
		runtime, err := prepareClientRuntime()
		if err != nil {
			return err
		}
		defer runtime.close()
		return cmd.RunNamespaceCommand(runtime.ctxt, runtime.client, op, c.Args().Slice(), os.Stdout)
	}
}

// scopedCommand signature of the namespace scoped command runners
type scopedCommand func(
	ctxt context.Context,
	c *client.Client,
	scope cmd.ScopedCLIArgs,
	op string,
	args []string,
	out io.Writer,
) error

// scopedAction run one namespace scoped operation
func scopedAction(scope *cmd.ScopedCLIArgs, runner scopedCommand) func(op string) cli.ActionFunc {
	return func(op string) cli.ActionFunc {
		return func(c *cli.Context) error {
			runtime, err := prepareClientRuntime()
			if err != nil {
				return err
			}
			defer runtime.close()
			return runner(runtime.ctxt, runtime.client, *scope, op, c.Args().Slice(), os.Stdout)
		}
	}
}

// ============================================================================
// Pub/Sub subcommands

// publishAction publish one message
func publishAction(stream *cmd.StreamCLIArgs) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.Args().Len() != 1 {
			return fmt.Errorf("publish expects one message argument")
		}
		runtime, err := prepareClientRuntime()
		if err != nil {
			return err
		}
		defer runtime.close()
		return cmd.RunPublish(runtime.ctxt, runtime.client, *stream, c.Args().First())
	}
}

// listenAction print a channel's messages until interrupted
func listenAction(stream *cmd.StreamCLIArgs) cli.ActionFunc {
	return func(c *cli.Context) error {
		runtime, err := prepareClientRuntime()
		if err != nil {
			return err
		}
		defer runtime.close()
		return cmd.RunListen(runtime.ctxt, runtime.client, *stream, cmdArgs.Hostname, os.Stdout)
	}
}

// relayAction relay a channel onto NATS until interrupted
func relayAction(stream *cmd.StreamCLIArgs) cli.ActionFunc {
	return func(c *cli.Context) error {
		runtime, err := prepareClientRuntime()
		if err != nil {
			return err
		}
		defer runtime.close()
		if runtime.config.Relay == nil {
			return fmt.Errorf("relay can't start without its configurations")
		}
		return cmd.RunRelay(
			runtime.ctxt, runtime.client, *stream, *runtime.config.Relay, cmdArgs.Hostname,
		)
	}
}

// ============================================================================
// Development server subcommand

// startDevServer run the in-memory development backend
func startDevServer(c *cli.Context) error {
	config, err := initialCmdArgsProcessing()
	if err != nil {
		return err
	}
	if config.DevServer == nil {
		return fmt.Errorf("development server can't start without its configurations")
	}

	wg, runTimeContext, rtCancel := defineControlVars()
	defer wg.Wait()
	defer rtCancel()

	signalRecvSetup(wg, runTimeContext, rtCancel)

	return backend.RunDevServer(runTimeContext, *config.DevServer, cmdArgs.Hostname)
}
