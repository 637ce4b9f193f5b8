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
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/alwitt/suburb/client"
	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"
)

// ScopedCLIArgs arguments of the namespace scoped commands
type ScopedCLIArgs struct {
	Namespace string `validate:"required"`
}

// GetScopedCLIFlags retrieve the set of CMD flags for namespace scoped commands
func GetScopedCLIFlags(args *ScopedCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "namespace",
			Usage:       "Namespace the command operates in",
			Aliases:     []string{"n"},
			EnvVars:     []string{"SUBURB_NAMESPACE"},
			Destination: &args.Namespace,
			Required:    true,
		},
	}
}

// printResult write a command result as indented JSON
func printResult(out io.Writer, result interface{}) error {
	t, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", t)
	return err
}

// requireArgs verify the number of positional arguments
func requireArgs(op string, args []string, names ...string) error {
	if len(args) != len(names) {
		return fmt.Errorf("%s expects arguments %v, got %d", op, names, len(args))
	}
	return nil
}

// RunNamespaceCommand run one namespace operation: list, create or delete
func RunNamespaceCommand(
	ctxt context.Context, c *client.Client, op string, args []string, out io.Writer,
) error {
	switch op {
	case "list":
		namespaces, err := c.ListNamespaces(ctxt)
		if err != nil {
			return err
		}
		return printResult(out, namespaces)
	case "create":
		if err := requireArgs(op, args, "name"); err != nil {
			return err
		}
		created, err := c.CreateNamespace(ctxt, args[0])
		if err != nil {
			return err
		}
		return printResult(out, created)
	case "delete":
		if err := requireArgs(op, args, "name"); err != nil {
			return err
		}
		return c.DeleteNamespace(ctxt, args[0])
	default:
		return fmt.Errorf("unknown namespace operation '%s'", op)
	}
}

// selectScope validate the scope args and select the namespace
func selectScope(ctxt context.Context, c *client.Client, scope ScopedCLIArgs) error {
	validate := validator.New()
	if err := validate.Struct(&scope); err != nil {
		return err
	}
	return c.SelectNamespace(ctxt, scope.Namespace)
}

// RunQueueCommand run one queue operation within a namespace
func RunQueueCommand(
	ctxt context.Context,
	c *client.Client,
	scope ScopedCLIArgs,
	op string,
	args []string,
	out io.Writer,
) error {
	if err := selectScope(ctxt, c, scope); err != nil {
		return err
	}
	if op == "list" {
		queues, err := c.Queues.List(ctxt)
		if err != nil {
			return err
		}
		return printResult(out, queues)
	}
	if op == "push" {
		if err := requireArgs(op, args, "queue", "message"); err != nil {
			return err
		}
		return c.Queues.Push(ctxt, args[0], args[1])
	}
	if err := requireArgs(op, args, "queue"); err != nil {
		return err
	}
	queue := args[0]
	switch op {
	case "create":
		created, err := c.Queues.Create(ctxt, queue)
		if err != nil {
			return err
		}
		return printResult(out, created)
	case "delete":
		return c.Queues.Delete(ctxt, queue)
	case "peek":
		head, err := c.Queues.Peek(ctxt, queue)
		if err != nil {
			return err
		}
		return printResult(out, head)
	case "pop":
		head, err := c.Queues.Pop(ctxt, queue)
		if err != nil {
			return err
		}
		return printResult(out, head)
	case "length":
		length, err := c.Queues.Length(ctxt, queue)
		if err != nil {
			return err
		}
		return printResult(out, length)
	default:
		return fmt.Errorf("unknown queue operation '%s'", op)
	}
}

// RunFlagCommand run one feature flag operation within a namespace
func RunFlagCommand(
	ctxt context.Context,
	c *client.Client,
	scope ScopedCLIArgs,
	op string,
	args []string,
	out io.Writer,
) error {
	if err := selectScope(ctxt, c, scope); err != nil {
		return err
	}
	switch op {
	case "list":
		flags, err := c.Flags.List(ctxt)
		if err != nil {
			return err
		}
		return printResult(out, flags)
	case "get":
		if err := requireArgs(op, args, "flag"); err != nil {
			return err
		}
		value, err := c.Flags.Get(ctxt, args[0])
		if err != nil {
			return err
		}
		return printResult(out, value)
	case "set":
		if err := requireArgs(op, args, "flag", "value"); err != nil {
			return err
		}
		value, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("flag value '%s' is not a boolean: %w", args[1], err)
		}
		return c.Flags.Set(ctxt, args[0], value)
	case "delete":
		if err := requireArgs(op, args, "flag"); err != nil {
			return err
		}
		return c.Flags.Delete(ctxt, args[0])
	default:
		return fmt.Errorf("unknown flag operation '%s'", op)
	}
}

// RunLogCommand run one log operation within a namespace
func RunLogCommand(
	ctxt context.Context,
	c *client.Client,
	scope ScopedCLIArgs,
	op string,
	args []string,
	out io.Writer,
) error {
	if err := selectScope(ctxt, c, scope); err != nil {
		return err
	}
	switch op {
	case "list":
		entries, err := c.Logs.List(ctxt)
		if err != nil {
			return err
		}
		return printResult(out, entries)
	case "add":
		if err := requireArgs(op, args, "source", "level", "message"); err != nil {
			return err
		}
		return c.Logs.Add(ctxt, args[0], args[1], args[2])
	default:
		return fmt.Errorf("unknown log operation '%s'", op)
	}
}
