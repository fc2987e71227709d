package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// GreeterParams are the inputs of the hello-world process.
type GreeterParams struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// GreeterResult is the output of the hello-world process.
type GreeterResult struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// NewGreeter returns the hello-world process: it greets the caller by
// name, optionally echoing a message.
func NewGreeter() *Definition[GreeterParams, GreeterResult] {
	return NewDefinition("greeter", func(_ context.Context, p GreeterParams) (GreeterResult, error) {
		if strings.TrimSpace(p.Name) == "" {
			return GreeterResult{}, errors.New("greeter: name parameter is required")
		}

		value := fmt.Sprintf("Hello %s!", p.Name)
		if p.Message != "" {
			value += " " + p.Message
		}
		return GreeterResult{ID: "echo", Value: value}, nil
	})
}

// ArtifactRemover deletes the stored artifacts of a prior job. The
// manager wires it to the deployment's artifact store.
type ArtifactRemover interface {
	Remove(ctx context.Context, ref string) error
}

// RemoverParams are the inputs of the result-remover process.
type RemoverParams struct {
	// Ref is the artifact reference of the result to delete.
	Ref string `json:"ref"`
}

// RemoverResult is the output of the result-remover process.
type RemoverResult struct {
	ID      string `json:"id"`
	Removed string `json:"removed"`
}

// NewResultRemover returns the result-remover process bound to the given
// artifact store.
func NewResultRemover(store ArtifactRemover) *Definition[RemoverParams, RemoverResult] {
	return NewDefinition("result-remover", func(ctx context.Context, p RemoverParams) (RemoverResult, error) {
		if p.Ref == "" {
			return RemoverResult{}, errors.New("result-remover: ref parameter is required")
		}
		if err := store.Remove(ctx, p.Ref); err != nil {
			return RemoverResult{}, fmt.Errorf("result-remover: %w", err)
		}
		return RemoverResult{ID: "res", Removed: p.Ref}, nil
	})
}
