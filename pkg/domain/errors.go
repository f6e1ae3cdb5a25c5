package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the structured failure modes of the engine. Handlers
// return these as data inside a NodeResult; they are never panics and never
// cross the provider manager boundary as raw transport errors.
var (
	ErrGateConditionFailed  = errors.New("gate condition failed")
	ErrLoopSafetyLimit      = errors.New("loop exceeded maximum iteration count")
	ErrFileSandboxViolation = errors.New("path escapes the project folder")
	ErrConfiguration        = errors.New("configuration error")
	ErrProvider             = errors.New("provider error")
)

// ProviderErrorCategory is the human-readable classification every adapter
// maps backend-specific failures onto.
type ProviderErrorCategory string

const (
	ProviderErrorAuthentication ProviderErrorCategory = "authentication"
	ProviderErrorRateLimit      ProviderErrorCategory = "rate-limit"
	ProviderErrorBackend        ProviderErrorCategory = "backend"
	ProviderErrorNetwork        ProviderErrorCategory = "network"
)

type ProviderError struct {
	Provider ProviderType
	Category ProviderErrorCategory
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider %s error: %s", e.Provider, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return ErrProvider
}

func NewProviderError(provider ProviderType, category ProviderErrorCategory, format string, args ...any) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// GateConditionError is the structured outcome of a gate whose predicate
// evaluated false. It carries the evaluated output so the graph walker can
// decide what to do with it, typically a loop-back retry.
type GateConditionError struct {
	NodeID    string
	Condition string
	Output    any
}

func (e *GateConditionError) Error() string {
	return fmt.Sprintf("gate condition %q not met on node %s", e.Condition, e.NodeID)
}

func (e *GateConditionError) Unwrap() error {
	return ErrGateConditionFailed
}

type LoopSafetyLimitError struct {
	NodeID        string
	MaxIterations int
}

func (e *LoopSafetyLimitError) Error() string {
	return fmt.Sprintf("loop %s exceeded its safety limit of %d iterations", e.NodeID, e.MaxIterations)
}

func (e *LoopSafetyLimitError) Unwrap() error {
	return ErrLoopSafetyLimit
}

type FileSandboxError struct {
	Path          string
	ProjectFolder string
}

func (e *FileSandboxError) Error() string {
	return fmt.Sprintf("path %s resolves outside project folder %s", e.Path, e.ProjectFolder)
}

func (e *FileSandboxError) Unwrap() error {
	return ErrFileSandboxViolation
}

type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}
