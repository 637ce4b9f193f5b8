package common

import (
	"context"

	"github.com/apex/log"
)

// LogTagModifier updates a log.Fields map with information carried by a context
type LogTagModifier func(ctxt context.Context, theTags log.Fields)

// Component base structure for a Component
type Component struct {
	// LogTags are the static tags attached to every log line of the component
	LogTags log.Fields
	// LogTagModifiers are applied to a copy of LogTags when logging within a context
	LogTagModifiers []LogTagModifier
}

// GetLogTagsForContext return a new log.Fields map built from the component's tags
// and any metadata found in the context
func (c Component) GetLogTagsForContext(ctxt context.Context) log.Fields {
	result := log.Fields{}
	for k, v := range c.LogTags {
		result[k] = v
	}
	if ctxt != nil {
		for _, modifier := range c.LogTagModifiers {
			modifier(ctxt, result)
		}
	}
	return result
}
