package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// MockProvider is a scripted ports.Provider for agent and marker tests.
// Replies are matched by forced tool name and a substring of the prompt, and
// are handed out in the order they were added; the last reply of a script is
// repeated once the others are used up.
//
// It also has the DoRequest, GetModel and ProviderName methods of a vendor
// adapter, so it can be registered with the llm package and run behind the
// full middleware chain.
type MockProvider struct {
	mu sync.Mutex

	model    string
	usage    ports.Usage
	scripts  []*script
	requests []ports.GenerationRequest
}

type script struct {
	tool     string
	contains string
	replies  []scriptedReply
	next     int
}

type scriptedReply struct {
	resp ports.GenerationResponse
	err  error
}

// NewMockProvider creates a provider that reports model and charges 100
// input and 20 output tokens per successful call.
func NewMockProvider(model string) *MockProvider {
	return &MockProvider{
		model: model,
		usage: ports.Usage{InputTokens: 100, OutputTokens: 20},
	}
}

// WithUsage changes the usage reported per call.
func (m *MockProvider) WithUsage(in, out int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = ports.Usage{InputTokens: in, OutputTokens: out}
	return m
}

// OnTool scripts a tool invocation reply for requests forcing tool whose
// prompt contains the substring contains. input is marshalled to JSON unless
// it is already a string or json.RawMessage.
func (m *MockProvider) OnTool(tool, contains string, input any) *MockProvider {
	var raw json.RawMessage
	switch v := input.(type) {
	case json.RawMessage:
		raw = v
	case string:
		raw = json.RawMessage(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("testutils: cannot marshal scripted input: %v", err))
		}
		raw = b
	}
	return m.add(tool, contains, scriptedReply{resp: ports.GenerationResponse{
		StopReason:      ports.StopToolInvoked,
		ToolInvocations: []ports.ToolInvocation{{Name: tool, Input: raw}},
	}})
}

// OnMalformed scripts a reply the provider could not parse.
func (m *MockProvider) OnMalformed(tool, contains string) *MockProvider {
	return m.add(tool, contains, scriptedReply{resp: ports.GenerationResponse{StopReason: ports.StopReasonError}})
}

// OnText scripts a plain text reply for requests without a forced tool.
func (m *MockProvider) OnText(contains, text string) *MockProvider {
	return m.add("", contains, scriptedReply{resp: ports.GenerationResponse{Text: text, StopReason: ports.StopEnd}})
}

// OnError scripts a transport failure.
func (m *MockProvider) OnError(tool, contains string, err error) *MockProvider {
	return m.add(tool, contains, scriptedReply{err: err})
}

func (m *MockProvider) add(tool, contains string, r scriptedReply) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scripts {
		if s.tool == tool && s.contains == contains {
			s.replies = append(s.replies, r)
			return m
		}
	}
	m.scripts = append(m.scripts, &script{tool: tool, contains: contains, replies: []scriptedReply{r}})
	return m
}

// Generate implements ports.Provider.
func (m *MockProvider) Generate(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	return m.DoRequest(ctx, req)
}

// DoRequest returns the next scripted reply for req.
func (m *MockProvider) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	if err := ctx.Err(); err != nil {
		return ports.GenerationResponse{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	s := m.match(req)
	if s == nil {
		return ports.GenerationResponse{}, fmt.Errorf("testutils: no scripted reply for tool %q", req.ToolChoice.Name)
	}
	r := s.replies[s.next]
	if s.next < len(s.replies)-1 {
		s.next++
	}
	if r.err != nil {
		return ports.GenerationResponse{}, r.err
	}

	resp := r.resp
	resp.Model = m.model
	resp.Usage = m.usage
	return resp, nil
}

// match prefers scripts with a prompt substring over catch-all scripts.
func (m *MockProvider) match(req ports.GenerationRequest) *script {
	tool := ""
	if req.ToolChoice.Mode == ports.ToolChoiceTool {
		tool = req.ToolChoice.Name
	}
	prompt := req.Prompt()

	var fallback *script
	for _, s := range m.scripts {
		if s.tool != tool {
			continue
		}
		if s.contains == "" {
			if fallback == nil {
				fallback = s
			}
			continue
		}
		if strings.Contains(prompt, s.contains) {
			return s
		}
	}
	return fallback
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []ports.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.GenerationRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns the number of requests received.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CountTokens estimates four characters per token.
func (m *MockProvider) CountTokens(text string) int { return (len(text) + 3) / 4 }

// Model implements ports.Provider.
func (m *MockProvider) Model() string { return m.model }

// GetModel implements the vendor adapter interface of the llm package.
func (m *MockProvider) GetModel() string { return m.model }

// Name implements ports.Provider.
func (m *MockProvider) Name() string { return "mock" }

// ProviderName implements the vendor adapter interface of the llm package.
func (m *MockProvider) ProviderName() string { return "mock" }
