// Package tools exposes backend capabilities to the model: a read-only
// catalog loaded from YAML, the executor that gates, scopes and dispatches
// calls, and the handlers themselves.
package tools

import (
	_ "embed"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soyeahso/concierge/internal/llm"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// AdminPrefix marks admin-only tools.
const AdminPrefix = "admin_"

// Tool is a catalog entry.
type Tool struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	InputSchema map[string]any `yaml:"inputSchema" json:"inputSchema"`
	Private     bool           `yaml:"private,omitempty" json:"-"`
}

// AdminOnly reports whether the tool needs the admin role.
func (t Tool) AdminOnly() bool {
	return strings.HasPrefix(t.Name, AdminPrefix)
}

// DMOnly reports whether the tool may only run in a direct conversation.
func (t Tool) DMOnly() bool {
	return t.Private || t.AdminOnly()
}

// Definition converts the tool to the provider-neutral form.
func (t Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
}

// Catalog is the ordered, immutable set of tools.
type Catalog struct {
	tools []Tool
	index map[string]int
}

// LoadCatalog parses a catalog document. A missing "tools" key, an empty
// list, an unnamed tool or a duplicate name are errors.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var doc struct {
		Tools *[]Tool `yaml:"tools"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("tool catalog is empty")
		}
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	if doc.Tools == nil {
		return nil, errors.New("tool catalog: no 'tools' key")
	}
	if len(*doc.Tools) == 0 {
		return nil, errors.New("tool catalog: no tools defined")
	}

	c := &Catalog{index: make(map[string]int, len(*doc.Tools))}
	for i, t := range *doc.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool catalog: tool %d has no name", i)
		}
		if _, dup := c.index[t.Name]; dup {
			return nil, fmt.Errorf("tool catalog: duplicate tool %q", t.Name)
		}
		if t.InputSchema == nil {
			t.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		c.index[t.Name] = len(c.tools)
		c.tools = append(c.tools, t)
	}
	return c, nil
}

// LoadCatalogFile reads a catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tool catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(builtinCatalog))
}

// List returns every tool in catalog order.
func (c *Catalog) List() []Tool {
	return append([]Tool(nil), c.tools...)
}

// Names returns every tool name in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.tools))
	for i, t := range c.tools {
		names[i] = t.Name
	}
	return names
}

// Get returns the named tool.
func (c *Catalog) Get(name string) (Tool, bool) {
	i, ok := c.index[name]
	if !ok {
		return Tool{}, false
	}
	return c.tools[i], true
}

// Filter returns the named tools that exist, in catalog order.
func (c *Catalog) Filter(names ...string) []Tool {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Tool
	for _, t := range c.tools {
		if want[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// Visible returns the tools a conversation may be offered: DM-only tools
// are hidden from public rooms and admin tools from non-admins.
func (c *Catalog) Visible(direct, admin bool) []Tool {
	var out []Tool
	for _, t := range c.tools {
		if t.DMOnly() && !direct {
			continue
		}
		if t.AdminOnly() && !admin {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Definitions returns provider definitions for the named tools, or for the
// whole catalog when no name is given.
func (c *Catalog) Definitions(names ...string) []llm.ToolDefinition {
	if len(names) == 0 {
		return DefinitionsOf(c.tools)
	}
	return DefinitionsOf(c.Filter(names...))
}

// DefinitionsOf converts tools to provider definitions.
func DefinitionsOf(tools []Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition()
	}
	return defs
}
