package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/core"
	"github.com/apex/log"
)

// NamespaceSession owns the namespace selection which gates every namespace scoped
// operation. The selection is guarded by a lock, though callers are still expected
// to have one writer.
type NamespaceSession struct {
	common.Component
	executor core.Executor
	lock     sync.RWMutex
	selected *string
}

// DefineNamespaceSession define a new session with no namespace selected
func DefineNamespaceSession(executor core.Executor) *NamespaceSession {
	logTags := log.Fields{"module": "client", "component": "namespace-session"}
	return &NamespaceSession{
		Component: common.Component{LogTags: logTags},
		executor:  executor,
		selected:  nil,
	}
}

// ListNamespaces list all namespaces
func (s *NamespaceSession) ListNamespaces(ctxt context.Context) ([]common.Namespace, error) {
	path := "/namespaces"
	resp, err := s.executor.Execute(ctxt, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var namespaces []common.Namespace
	if err := core.Decode(path, resp, &namespaces); err != nil {
		return nil, err
	}
	return namespaces, nil
}

// CreateNamespace create a new namespace. The backend rejects an existing name.
func (s *NamespaceSession) CreateNamespace(
	ctxt context.Context, name string,
) (common.Namespace, error) {
	path := "/namespaces"
	resp, err := s.executor.Execute(
		ctxt, http.MethodPost, path, common.NamespaceCreateRequest{Name: name},
	)
	if err != nil {
		return common.Namespace{}, err
	}
	var namespace common.Namespace
	if err := core.Decode(path, resp, &namespace); err != nil {
		return common.Namespace{}, err
	}
	return namespace, nil
}

// DeleteNamespace delete a namespace. Deleting the selected namespace clears the selection.
func (s *NamespaceSession) DeleteNamespace(ctxt context.Context, name string) error {
	path := fmt.Sprintf("/namespaces/%s", url.PathEscape(name))
	if _, err := s.executor.Execute(ctxt, http.MethodDelete, path, nil); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.selected != nil && *s.selected == name {
		log.WithFields(s.LogTags).Infof("Selected namespace '%s' deleted, clearing selection", name)
		s.selected = nil
	}
	return nil
}

// SelectNamespace select the namespace used by the resource facades. The namespace
// must be reported by ListNamespaces, otherwise common.NamespaceNotFoundError is returned.
func (s *NamespaceSession) SelectNamespace(ctxt context.Context, name string) error {
	namespaces, err := s.ListNamespaces(ctxt)
	if err != nil {
		return err
	}
	for _, namespace := range namespaces {
		if namespace.Name == name {
			s.lock.Lock()
			defer s.lock.Unlock()
			selected := name
			s.selected = &selected
			log.WithFields(s.LogTags).Debugf("Selected namespace '%s'", name)
			return nil
		}
	}
	return common.NamespaceNotFoundError{Namespace: name}
}

// SelectedNamespace the currently selected namespace, if any
func (s *NamespaceSession) SelectedNamespace() (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.selected == nil {
		return "", false
	}
	return *s.selected, true
}

// ClearSelection drop the namespace selection
func (s *NamespaceSession) ClearSelection() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.selected = nil
}

// scopedPath build a path rooted at "/<resource>/<selected namespace>", or fail
// with common.NamespaceNotSelectedError
func (s *NamespaceSession) scopedPath(
	operation string, resource string, segments ...string,
) (string, error) {
	namespace, ok := s.SelectedNamespace()
	if !ok {
		return "", common.NamespaceNotSelectedError{Operation: operation}
	}
	path := fmt.Sprintf("/%s/%s", resource, url.PathEscape(namespace))
	for _, segment := range segments {
		path = fmt.Sprintf("%s/%s", path, segment)
	}
	return path, nil
}
