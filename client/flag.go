package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/alwitt/suburb/common"
	"github.com/alwitt/suburb/core"
)

// FlagFacade feature flag operations within the selected namespace
type FlagFacade struct {
	session  *NamespaceSession
	executor core.Executor
}

// List list the feature flags of the namespace
func (f FlagFacade) List(ctxt context.Context) ([]common.FeatureFlag, error) {
	path, err := f.session.scopedPath("flag list", "flags")
	if err != nil {
		return nil, err
	}
	resp, err := f.executor.Execute(ctxt, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var flags []common.FeatureFlag
	if err := core.Decode(path, resp, &flags); err != nil {
		return nil, err
	}
	return flags, nil
}

// Get read a feature flag. A flag with no value reads as false.
func (f FlagFacade) Get(ctxt context.Context, name string) (bool, error) {
	path, err := f.session.scopedPath("flag get", "flags", url.PathEscape(name))
	if err != nil {
		return false, err
	}
	resp, err := f.executor.Execute(ctxt, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	return decodeFlagValue(path, resp)
}

// Set set a feature flag
func (f FlagFacade) Set(ctxt context.Context, name string, value bool) error {
	path, err := f.session.scopedPath("flag set", "flags", url.PathEscape(name))
	if err != nil {
		return err
	}
	_, err = f.executor.Execute(ctxt, http.MethodPost, path, common.FlagSetRequest{Value: &value})
	return err
}

// Delete delete a feature flag
func (f FlagFacade) Delete(ctxt context.Context, name string) error {
	path, err := f.session.scopedPath("flag delete", "flags", url.PathEscape(name))
	if err != nil {
		return err
	}
	_, err = f.executor.Execute(ctxt, http.MethodDelete, path, nil)
	return err
}

// decodeFlagValue accepts a bare boolean, null, or an object with an optional
// "value" field
func decodeFlagValue(path string, payload json.RawMessage) (bool, error) {
	var value *bool
	if err := json.Unmarshal(payload, &value); err == nil {
		return value != nil && *value, nil
	}
	var record struct {
		Value *bool `json:"value"`
	}
	if err := core.Decode(path, payload, &record); err != nil {
		return false, err
	}
	return record.Value != nil && *record.Value, nil
}
