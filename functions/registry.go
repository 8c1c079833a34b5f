package functions

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// Handler answers one function call from the model.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry holds the functions the chat model may call.
type Registry struct {
	mu       sync.RWMutex
	decls    []*genai.FunctionDeclaration
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a declaration and its handler. A second registration under
// the same name replaces the handler.
func (r *Registry) Register(decl *genai.FunctionDeclaration, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[decl.Name]; !exists {
		r.decls = append(r.decls, decl)
	}
	r.handlers[decl.Name] = h
}

// Tools is the tool list for a generate request, or nil when empty.
func (r *Registry) Tools() []*genai.Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.decls) == 0 {
		return nil
	}
	decls := append([]*genai.FunctionDeclaration(nil), r.decls...)
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Call runs the handler for fc. Unknown functions and handler errors are
// reported back to the model in the response body.
func (r *Registry) Call(ctx context.Context, fc *genai.FunctionCall) *genai.FunctionResponse {
	r.mu.RLock()
	h, ok := r.handlers[fc.Name]
	r.mu.RUnlock()

	var response map[string]any
	if !ok {
		response = map[string]any{"error": fmt.Sprintf("Unknown function: %s", fc.Name)}
	} else if out, err := h(ctx, fc.Args); err != nil {
		response = map[string]any{"error": err.Error()}
	} else {
		response = out
	}

	return &genai.FunctionResponse{
		ID:       fc.ID,
		Name:     fc.Name,
		Response: response,
	}
}
