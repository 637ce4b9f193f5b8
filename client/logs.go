package client

import (
	"context"
	"net/http"

	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/core"
)

// LogFacade log operations within the selected namespace
type LogFacade struct {
	session  *NamespaceSession
	executor core.Executor
}

// List list the log entries of the namespace
func (f LogFacade) List(ctxt context.Context) ([]common.LogEntry, error) {
	path, err := f.session.scopedPath("log list", "logs")
	if err != nil {
		return nil, err
	}
	resp, err := f.executor.Execute(ctxt, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var entries []common.LogEntry
	if err := core.Decode(path, resp, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Add append a log entry. The backend assigns the timestamp.
func (f LogFacade) Add(ctxt context.Context, source, level, message string) error {
	path, err := f.session.scopedPath("log add", "logs")
	if err != nil {
		return err
	}
	_, err = f.executor.Execute(ctxt, http.MethodPost, path, common.LogAddRequest{
		Source: source, Level: level, Message: message,
	})
	return err
}
