// Package mcp hosts the in-process tool server agents call during a phase.
// Each server is scoped to one phase invocation: the item it operates on is
// captured at construction, so a confused agent can never write to another
// item. Process backends reach the server through the runner's stdio
// envelope; SDK backends call it directly per tool_use block.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wreckit-dev/wreckit/internal/agent"
	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// handler executes one validated tool call.
type handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// tool pairs a definition with its compiled schema and handler.
type tool struct {
	def     agent.ToolDef
	schema  *jsonschema.Schema
	handler handler
}

// Server implements agent.ToolDispatcher for one phase invocation.
type Server struct {
	log *log.Logger

	mu    sync.Mutex
	tools map[string]*tool
	order []string

	completed    bool
	completeNote string
}

// Compile-time check that Server implements the dispatcher contract.
var _ agent.ToolDispatcher = (*Server)(nil)

func newServer() *Server {
	return &Server{
		log:   logging.New("mcp"),
		tools: make(map[string]*tool),
	}
}

func (s *Server) register(name, description, schemaJSON string, h handler) {
	s.tools[name] = &tool{
		def: agent.ToolDef{
			Name:        name,
			Description: description,
			InputSchema: json.RawMessage(schemaJSON),
		},
		schema:  mustSchema(name, schemaJSON),
		handler: h,
	}
	s.order = append(s.order, name)
}

// Tools implements agent.ToolDispatcher.
func (s *Server) Tools() []agent.ToolDef {
	defs := make([]agent.ToolDef, 0, len(s.order))
	for _, name := range s.order {
		defs = append(defs, s.tools[name].def)
	}
	return defs
}

// Dispatch implements agent.ToolDispatcher. Input is validated against the
// tool's schema before the handler runs; a validation failure goes back to
// the agent as an error result, not a crashed run.
func (s *Server) Dispatch(ctx context.Context, callID, name string, input json.RawMessage) (json.RawMessage, error) {
	t, ok := s.tools[name]
	if !ok {
		return nil, werr.Newf(werr.KindUsage, "unknown tool %q", name)
	}

	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return nil, werr.Wrap(werr.KindUsage, err, "tool %s: input is not valid JSON", name)
	}
	if err := t.schema.Validate(doc); err != nil {
		return nil, werr.Wrap(werr.KindUsage, err, "tool %s: invalid input", name)
	}

	s.log.Debug("tool call", "tool", name, "call_id", callID)
	out, err := t.handler(ctx, input)
	if err != nil {
		s.log.Debug("tool call failed", "tool", name, "call_id", callID, "err", err)
		return nil, err
	}
	return out, nil
}

// CompleteCalled reports whether the agent invoked the complete tool, and
// the note it left. The complete phase runner uses this as the explicit
// acknowledgement that closes out an item.
func (s *Server) CompleteCalled() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, s.completeNote
}

func (s *Server) markComplete(note string) {
	s.mu.Lock()
	s.completed = true
	s.completeNote = note
	s.mu.Unlock()
}

// mustSchema compiles one of the built-in tool schemas. The schemas are
// package constants, so a compile failure is a programming error.
func mustSchema(name, schemaJSON string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("mcp: tool %s schema is not valid JSON: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		panic(fmt.Sprintf("mcp: tool %s schema: %v", name, err))
	}
	schema, err := c.Compile(resource)
	if err != nil {
		panic(fmt.Sprintf("mcp: tool %s schema: %v", name, err))
	}
	return schema
}
