package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/core"
)

// QueueFacade queue operations within the selected namespace
type QueueFacade struct {
	session  *NamespaceSession
	executor core.Executor
}

// List list the queues of the namespace
func (f QueueFacade) List(ctxt context.Context) ([]common.Queue, error) {
	path, err := f.session.scopedPath("queue list", "queues")
	if err != nil {
		return nil, err
	}
	resp, err := f.executor.Execute(ctxt, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var queues []common.Queue
	if err := core.Decode(path, resp, &queues); err != nil {
		return nil, err
	}
	return queues, nil
}

// Create create a new queue
func (f QueueFacade) Create(ctxt context.Context, name string) (common.Queue, error) {
	path, err := f.session.scopedPath("queue create", "queues")
	if err != nil {
		return common.Queue{}, err
	}
	resp, err := f.executor.Execute(
		ctxt, http.MethodPost, path, common.QueueCreateRequest{Queue: name},
	)
	if err != nil {
		return common.Queue{}, err
	}
	var queue common.Queue
	if err := core.Decode(path, resp, &queue); err != nil {
		return common.Queue{}, err
	}
	return queue, nil
}

// Delete delete a queue
func (f QueueFacade) Delete(ctxt context.Context, name string) error {
	path, err := f.session.scopedPath("queue delete", "queues", url.PathEscape(name))
	if err != nil {
		return err
	}
	_, err = f.executor.Execute(ctxt, http.MethodDelete, path, nil)
	return err
}

// Push append a message to the tail of a queue
func (f QueueFacade) Push(ctxt context.Context, name string, message string) error {
	path, err := f.session.scopedPath("queue push", "queues", url.PathEscape(name))
	if err != nil {
		return err
	}
	_, err = f.executor.Execute(
		ctxt, http.MethodPost, path, common.MessageRequest{Message: message},
	)
	return err
}

// Peek read the head message of a queue without removing it
func (f QueueFacade) Peek(ctxt context.Context, name string) (string, error) {
	path, err := f.session.scopedPath("queue peek", "queues", url.PathEscape(name), "peek")
	if err != nil {
		return "", err
	}
	return f.readMessage(ctxt, http.MethodGet, path)
}

// Pop remove and return the head message of a queue
func (f QueueFacade) Pop(ctxt context.Context, name string) (string, error) {
	path, err := f.session.scopedPath("queue pop", "queues", url.PathEscape(name), "pop")
	if err != nil {
		return "", err
	}
	return f.readMessage(ctxt, http.MethodPost, path)
}

// Length the number of messages in a queue
func (f QueueFacade) Length(ctxt context.Context, name string) (int, error) {
	path, err := f.session.scopedPath("queue length", "queues", url.PathEscape(name), "length")
	if err != nil {
		return 0, err
	}
	resp, err := f.executor.Execute(ctxt, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	var length int
	if err := core.Decode(path, resp, &length); err != nil {
		return 0, err
	}
	return length, nil
}

// readMessage a null payload reads as the empty message
func (f QueueFacade) readMessage(ctxt context.Context, method, path string) (string, error) {
	resp, err := f.executor.Execute(ctxt, method, path, nil)
	if err != nil {
		return "", err
	}
	var message string
	if err := core.Decode(path, resp, &message); err != nil {
		return "", err
	}
	return message, nil
}
