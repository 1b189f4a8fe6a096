package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// Vendors without native function calling get tool output through the
// prompt: the schema is described in prose, the model is asked for JSON only,
// and the reply is parsed and validated locally.

const emulationTemplate = `{{.Prompt}}

---
Respond with a single JSON object and nothing else. Do not wrap it in prose.
{{- if .Envelope}}
Choose exactly one of the tools below and answer as:
{"tool": "<tool name>", "arguments": { ...fields of that tool... }}
{{- end}}
{{range .Tools}}
Tool "{{.Name}}"{{if .Description}}: {{.Description}}{{end}}
Fields:
{{.Fields}}
{{- end}}`

var emulationTmpl = template.Must(template.New("emulation").Parse(emulationTemplate))

type emulatedTool struct {
	Name        string
	Description string
	Fields      string
}

// emulationTools returns the tools the model is allowed to call, honoring a
// forced choice.
func emulationTools(req ports.GenerationRequest) []ports.ToolDefinition {
	if len(req.Tools) == 0 || req.ToolChoice.Mode == ports.ToolChoiceNone {
		return nil
	}
	if req.ToolChoice.Mode == ports.ToolChoiceTool {
		for _, t := range req.Tools {
			if t.Name == req.ToolChoice.Name {
				return []ports.ToolDefinition{t}
			}
		}
	}
	return req.Tools
}

// renderEmulatedPrompt appends the tool instructions to prompt.
func renderEmulatedPrompt(prompt string, tools []ports.ToolDefinition) (string, error) {
	data := struct {
		Prompt   string
		Envelope bool
		Tools    []emulatedTool
	}{Prompt: prompt, Envelope: len(tools) > 1}

	for _, t := range tools {
		fields, err := describeSchema(t.Schema)
		if err != nil {
			return "", fmt.Errorf("tool %s: %w", t.Name, err)
		}
		data.Tools = append(data.Tools, emulatedTool{Name: t.Name, Description: t.Description, Fields: fields})
	}

	var buf bytes.Buffer
	if err := emulationTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render tool instructions: %w", err)
	}
	return buf.String(), nil
}

// describeSchema renders a JSON Schema object as an indented field list.
func describeSchema(raw json.RawMessage) (string, error) {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return "", fmt.Errorf("invalid schema: %w", err)
	}
	var b strings.Builder
	describeObject(&b, schema, 1)
	return strings.TrimRight(b.String(), "\n"), nil
}

func describeObject(b *strings.Builder, schema map[string]any, depth int) {
	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	indent := strings.Repeat("  ", depth)
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		fmt.Fprintf(b, "%s- %s (%s", indent, name, schemaType(prop))
		if required[name] {
			b.WriteString(", required")
		}
		b.WriteString(")")
		if desc, ok := prop["description"].(string); ok && desc != "" {
			b.WriteString(": " + desc)
		}
		if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
			vals := make([]string, 0, len(enum))
			for _, v := range enum {
				vals = append(vals, fmt.Sprint(v))
			}
			b.WriteString(" one of [" + strings.Join(vals, ", ") + "]")
		}
		b.WriteString("\n")

		switch schemaType(prop) {
		case "object":
			describeObject(b, prop, depth+1)
		case "array":
			if items, ok := prop["items"].(map[string]any); ok && schemaType(items) == "object" {
				fmt.Fprintf(b, "%s  each item:\n", indent)
				describeObject(b, items, depth+2)
			}
		}
	}
}

func schemaType(schema map[string]any) string {
	switch t := schema["type"].(type) {
	case string:
		if t == "array" {
			if items, ok := schema["items"].(map[string]any); ok {
				if it, ok := items["type"].(string); ok && it != "object" {
					return "array of " + it
				}
			}
		}
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "|")
	}
	return "any"
}

// parseEmulatedReply turns model text into tool invocations. When no valid
// invocation can be recovered the response carries StopReasonError and no
// text.
func parseEmulatedReply(text string, tools []ports.ToolDefinition) ports.GenerationResponse {
	raw := extractJSON(text)
	if raw == "" {
		return ports.GenerationResponse{StopReason: ports.StopReasonError}
	}

	var name string
	var input json.RawMessage
	if len(tools) == 1 {
		name, input = tools[0].Name, json.RawMessage(raw)
	} else {
		var envelope struct {
			Tool      string          `json:"tool"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil || envelope.Tool == "" {
			return ports.GenerationResponse{StopReason: ports.StopReasonError}
		}
		name, input = envelope.Tool, envelope.Arguments
	}

	tool, ok := findTool(tools, name)
	if !ok {
		return ports.GenerationResponse{StopReason: ports.StopReasonError}
	}
	if err := validateToolInput(tool, input); err != nil {
		return ports.GenerationResponse{StopReason: ports.StopReasonError}
	}

	return ports.GenerationResponse{
		StopReason:      ports.StopToolInvoked,
		ToolInvocations: []ports.ToolInvocation{{Name: name, Input: input}},
	}
}

func findTool(tools []ports.ToolDefinition, name string) (ports.ToolDefinition, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return ports.ToolDefinition{}, false
}

var schemaCache sync.Map // schema source -> *jsonschema.Schema

// compileToolSchema compiles and caches a tool's input schema.
func compileToolSchema(tool ports.ToolDefinition) (*jsonschema.Schema, error) {
	key := tool.Name + "\x00" + string(tool.Schema)
	if s, ok := schemaCache.Load(key); ok {
		return s.(*jsonschema.Schema), nil
	}

	url := "mem://tools/" + tool.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(tool.Schema)); err != nil {
		return nil, fmt.Errorf("failed to load schema for %s: %w", tool.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", tool.Name, err)
	}

	schemaCache.Store(key, schema)
	return schema, nil
}

// validateToolInput checks input against the tool's JSON Schema.
func validateToolInput(tool ports.ToolDefinition, input json.RawMessage) error {
	if len(tool.Schema) == 0 {
		return nil
	}
	schema, err := compileToolSchema(tool)
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return fmt.Errorf("tool %s input is not JSON: %w", tool.Name, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("tool %s input does not match schema: %w", tool.Name, err)
	}
	return nil
}

// ValidateToolInput is exported for callers that receive native tool calls
// and want the same schema guarantee emulated calls get.
func ValidateToolInput(tool ports.ToolDefinition, input json.RawMessage) error {
	return validateToolInput(tool, input)
}

// extractJSON pulls the first JSON object out of model text. It prefers a
// ```json fence, then any fence whose body starts with a brace, then the
// first balanced object outside string literals.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			if candidate := strings.TrimSpace(response[start : start+end]); json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if nl := strings.Index(response[start:], "\n"); nl != -1 {
			start += nl + 1
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			candidate := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(candidate, "{") && json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}

	for offset := 0; offset < len(response); {
		start := strings.Index(response[offset:], "{")
		if start == -1 {
			return ""
		}
		start += offset
		if end := matchBrace(response, start); end != -1 {
			if candidate := response[start : end+1]; json.Valid([]byte(candidate)) {
				return candidate
			}
		}
		offset = start + 1
	}
	return ""
}

// matchBrace returns the index of the brace closing the object that opens at
// start, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escapeNext := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		if c == '\\' && inString {
			escapeNext = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
