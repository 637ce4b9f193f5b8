package common

import (
	"context"
	"fmt"

	"github.com/apex/log"
)

// RequestParam is a helper object for logging a request's parameters into its context
type RequestParam struct {
	// ID is the request ID
	ID string `json:"id"`
	// Method is the request method: DELETE, POST, PUT, GET, etc.
	Method string `json:"method" `
	// URI is the request URI
	URI string `json:"uri"`
}

// UpdateLogTags updates Apex log.Fields map with values the requests's parameters
func (i *RequestParam) UpdateLogTags(tags log.Fields) {
	tags["request_id"] = i.ID
	tags["request_method"] = i.Method
	tags["request_uri"] = fmt.Sprintf("'%s'", i.URI)
}

// RecordRequestParam attach the request parameters to a context
func RecordRequestParam(ctxt context.Context, param RequestParam) context.Context {
	return context.WithValue(ctxt, RequestParam{}, param)
}

// ModifyLogTagsByRequestParam LogTagModifier which adds the request parameters
// recorded in the context
func ModifyLogTagsByRequestParam(ctxt context.Context, theTags log.Fields) {
	if param, ok := ctxt.Value(RequestParam{}).(RequestParam); ok {
		param.UpdateLogTags(theTags)
	}
}

// LogForwardingTag is set on log lines emitted while forwarding log records to the backend
const LogForwardingTag = "log_forwarding"

type logForwardingMarker struct{}

// MarkLogForwarding mark a context as belonging to the log forwarding path
func MarkLogForwarding(ctxt context.Context) context.Context {
	return context.WithValue(ctxt, logForwardingMarker{}, true)
}

// ModifyLogTagsByLogForwarding LogTagModifier which sets LogForwardingTag when the
// context was marked by MarkLogForwarding
func ModifyLogTagsByLogForwarding(ctxt context.Context, theTags log.Fields) {
	if marked, ok := ctxt.Value(logForwardingMarker{}).(bool); ok && marked {
		theTags[LogForwardingTag] = true
	}
}
