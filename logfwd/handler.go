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

package logfwd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/alwitt/suburb/common"
	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/go-playground/validator/v10"
)

// ErrAlreadyInstalled log forwarding is already installed in this process
var ErrAlreadyInstalled = errors.New("log forwarding already installed")

// defaultSource reported when neither the params nor the record name a source
const defaultSource = "suburb"

// Sink receives forwarded log records. client.LogFacade is a Sink.
type Sink interface {
	Add(ctxt context.Context, source, level, message string) error
}

// Params log forwarding parameters
type Params struct {
	// Source is reported as the source of every record. If empty, the record's
	// "component" field is used.
	Source string
	// Level records below this level are only written to the fallback handler
	Level log.Level
	// QueueDepth is the number of records buffered before logging blocks
	QueueDepth int `validate:"gte=1"`
	// Fallback receives the records which are not forwarded, and forwarding
	// failures. Defaults to a text handler on stderr.
	Fallback log.Handler
}

// forwardRecord one record queued for forwarding
type forwardRecord struct {
	source  string
	level   string
	message string
	entry   *log.Entry
}

// Handler apex/log handler forwarding records to the backend log store
type Handler struct {
	common.Component
	sink      Sink
	params    Params
	ctxt      context.Context
	processor common.TaskProcessor
	wg        sync.WaitGroup
}

// HandleLog queue a record for forwarding. Blocks while the queue is full.
func (h *Handler) HandleLog(e *log.Entry) error {
	if marked, ok := e.Fields[common.LogForwardingTag].(bool); ok && marked {
		// Emitted by the forwarding path itself
		return h.params.Fallback.HandleLog(e)
	}
	if e.Level < h.params.Level {
		return h.params.Fallback.HandleLog(e)
	}
	record := forwardRecord{
		source: h.recordSource(e), level: e.Level.String(), message: formatMessage(e), entry: e,
	}
	if err := h.processor.Submit(h.ctxt, record); err != nil {
		return h.params.Fallback.HandleLog(e)
	}
	return nil
}

// recordSource the source reported for a record
func (h *Handler) recordSource(e *log.Entry) string {
	if h.params.Source != "" {
		return h.params.Source
	}
	if component, ok := e.Fields["component"].(string); ok && component != "" {
		return component
	}
	return defaultSource
}

// formatMessage append the record fields to the message as sorted k=v pairs
func formatMessage(e *log.Entry) string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	builder := strings.Builder{}
	builder.WriteString(e.Message)
	for _, name := range names {
		builder.WriteString(fmt.Sprintf(" %s=%v", name, e.Fields[name]))
	}
	return builder.String()
}

// forward task handler sending one record to the sink
func (h *Handler) forward(param interface{}) error {
	record, ok := param.(forwardRecord)
	if !ok {
		return fmt.Errorf("unexpected task param %T", param)
	}
	ctxt := common.MarkLogForwarding(h.ctxt)
	if err := h.sink.Add(ctxt, record.source, record.level, record.message); err != nil {
		fields := log.Fields{}
		for name, value := range record.entry.Fields {
			fields[name] = value
		}
		fields["error"] = err.Error()
		fields[common.LogForwardingTag] = true
		// Handlers only read the exported fields of an entry
		failure := &log.Entry{
			Logger:    record.entry.Logger,
			Fields:    fields,
			Level:     record.entry.Level,
			Timestamp: record.entry.Timestamp,
			Message:   record.entry.Message,
		}
		if fbErr := h.params.Fallback.HandleLog(failure); fbErr != nil {
			return fbErr
		}
	}
	return nil
}

// ==============================================================================
// Process wide lifecycle

var (
	installLock     sync.Mutex
	installed       *Handler
	previousHandler log.Handler
)

// Install replace the process wide apex/log handler with a forwarding Handler.
// Fails with ErrAlreadyInstalled until Teardown is called.
func Install(ctxt context.Context, sink Sink, params Params) (*Handler, error) {
	installLock.Lock()
	defer installLock.Unlock()
	if installed != nil {
		return nil, ErrAlreadyInstalled
	}
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, err
	}
	if params.Fallback == nil {
		params.Fallback = text.New(os.Stderr)
	}
	logger, ok := log.Log.(*log.Logger)
	if !ok {
		return nil, fmt.Errorf("process logger %T does not support handler replacement", log.Log)
	}

	processor, err := common.GetNewTaskProcessorInstance("log-forwarding", params.QueueDepth)
	if err != nil {
		return nil, err
	}
	handler := &Handler{
		Component: common.Component{
			LogTags: log.Fields{"module": "logfwd", "component": "handler"},
		},
		sink:      sink,
		params:    params,
		ctxt:      ctxt,
		processor: processor,
	}
	if err := processor.AddToTaskExecutionMap(
		reflect.TypeOf(forwardRecord{}), handler.forward,
	); err != nil {
		return nil, err
	}
	if err := processor.StartEventLoop(&handler.wg); err != nil {
		return nil, err
	}

	previousHandler = logger.Handler
	installed = handler
	log.SetHandler(handler)
	return handler, nil
}

// Teardown restore the handler replaced by Install, after the queued records are
// forwarded
func Teardown() error {
	installLock.Lock()
	defer installLock.Unlock()
	if installed == nil {
		return nil
	}
	log.SetHandler(previousHandler)
	err := installed.processor.StopEventLoop()
	installed.wg.Wait()
	installed = nil
	previousHandler = nil
	return err
}
