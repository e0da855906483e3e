// Package runtime coordinates provider configurations and the active
// processing pipeline built from them.
//
// A Configuration names one LLM, one embedder and one vector store. At
// most one configuration per owner is active; the coordinator builds and
// caches the pipeline for it and rebuilds on activation or update.
package runtime

import (
	"fmt"
	"time"
)

// DefaultOwner scopes configurations when no owner is given.
const DefaultOwner = "default"

// ProviderSpec selects a provider implementation by kind tag plus its
// backend-specific parameters.
type ProviderSpec struct {
	Kind   string         `json:"kind" yaml:"kind"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Configuration is one validated provider triple.
type Configuration struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	LLM       ProviderSpec `json:"llm"`
	Embedding ProviderSpec `json:"embedding"`
	Vector    ProviderSpec `json:"vector"`
	Active    bool         `json:"active"`
	Owner     string       `json:"owner"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ConfigurationError reports an invalid or unreachable provider spec.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration %s: %s", e.Field, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func NewConfigurationError(field, message string, err error) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message, Err: err}
}

// NoActiveConfigurationError reports that an owner has no active
// configuration to serve requests with.
type NoActiveConfigurationError struct {
	Owner string
}

func (e *NoActiveConfigurationError) Error() string {
	return fmt.Sprintf("no active configuration for owner %s", e.Owner)
}

// ConfigNotFoundError reports a lookup for an unknown configuration id.
type ConfigNotFoundError struct {
	ID string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("configuration not found: %s", e.ID)
}
