// Package catalog defines the tools the server exposes and indexes them for
// search and documentation lookup.
//
// Every tool lives in the "pykernel" namespace and is registered in a
// tooldiscovery in-memory index with a local backend. Documentation
// (summary, notes, examples) lives in a tooldoc store backed by the same
// index.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/search"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/jonwraymond/toolfoundation/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Namespace is the namespace of every catalog tool.
const Namespace = "pykernel"

// Tool names.
const (
	ExecutePython    = "execute_python"
	InstallPackage   = "install_package"
	RestartKernel    = "restart_kernel"
	KernelStatus     = "kernel_status"
	InterruptKernel  = "interrupt_kernel"
	ExecutionHistory = "execution_history"
)

// ErrUnknownTool is returned for a name the catalog does not define.
var ErrUnknownTool = errors.New("unknown tool")

// Def defines one tool and its documentation.
type Def struct {
	Name        string
	Title       string
	Description string
	InputSchema map[string]any
	Annotations *mcp.ToolAnnotations
	Tags        []string
	Doc         tooldoc.DocEntry
}

// Catalog holds the indexed tool definitions.
type Catalog struct {
	defs   []Def
	byName map[string]int
	index  index.Index
	docs   *tooldoc.InMemoryStore
}

// New indexes defs. It fails on a duplicate or invalid definition.
func New(defs []Def) (*Catalog, error) {
	idx := index.NewInMemoryIndex(index.IndexOptions{
		Searcher: search.NewBM25Searcher(search.BM25Config{}),
	})
	docs := tooldoc.NewInMemoryStore(tooldoc.StoreOptions{Index: idx})

	c := &Catalog{
		defs:   make([]Def, 0, len(defs)),
		byName: make(map[string]int, len(defs)),
		index:  idx,
		docs:   docs,
	}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("catalog: tool without a name")
		}
		if _, dup := c.byName[def.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate tool %q", def.Name)
		}
		if err := idx.RegisterTool(def.model(), model.NewLocalBackend(def.Name)); err != nil {
			return nil, fmt.Errorf("catalog: register %s: %w", def.Name, err)
		}
		if err := docs.RegisterDoc(ID(def.Name), def.Doc); err != nil {
			return nil, fmt.Errorf("catalog: register doc %s: %w", def.Name, err)
		}
		c.byName[def.Name] = len(c.defs)
		c.defs = append(c.defs, def)
	}
	return c, nil
}

// Default returns the catalog of the server's tools.
func Default() *Catalog {
	c, err := New(Definitions())
	if err != nil {
		panic(err)
	}
	return c
}

// ID returns the namespaced tool ID for name.
func ID(name string) string {
	return Namespace + ":" + name
}

func (d Def) model() model.Tool {
	return model.Tool{
		Tool: mcp.Tool{
			Name:        d.Name,
			Title:       d.Title,
			Description: d.Description,
			InputSchema: d.InputSchema,
			Annotations: d.Annotations,
		},
		Namespace: Namespace,
		Tags:      d.Tags,
	}
}

// Tools returns the tool definitions in registration order.
func (c *Catalog) Tools() []model.Tool {
	out := make([]model.Tool, len(c.defs))
	for i, d := range c.defs {
		out[i] = d.model()
	}
	return out
}

// Lookup returns the tool named name.
func (c *Catalog) Lookup(name string) (model.Tool, bool) {
	i, ok := c.byName[name]
	if !ok {
		return model.Tool{}, false
	}
	return c.defs[i].model(), true
}

// MCPTool returns the protocol definition of the tool named name. Its
// description carries the documented notes and examples. The input schema
// is left nil so the server derives it from the typed handler input.
func (c *Catalog) MCPTool(name string) (*mcp.Tool, error) {
	t, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	doc, err := c.Describe(name)
	if err != nil {
		return nil, err
	}
	examples, err := c.Examples(name, maxDescribedExamples)
	if err != nil {
		return nil, err
	}
	tool := t.Tool
	tool.Description = describe(tool.Description, doc.Notes, examples)
	tool.InputSchema = nil
	return &tool, nil
}

// maxDescribedExamples caps the examples appended to a tool description.
const maxDescribedExamples = 3

func describe(description, notes string, examples []tooldoc.ToolExample) string {
	var b strings.Builder
	b.WriteString(description)
	if notes != "" {
		b.WriteString("\n\n")
		b.WriteString(notes)
	}
	if len(examples) > 0 {
		b.WriteString("\n\nExamples:")
		for _, ex := range examples {
			args, err := json.Marshal(ex.Args)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "\n- %s: %s", ex.Title, args)
		}
	}
	return b.String()
}

// InputSchemaProperties returns the sorted property names and the required
// properties of the catalog schema for the tool named name.
func (c *Catalog) InputSchemaProperties(name string) (properties, required []string, err error) {
	i, ok := c.byName[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	schema := c.defs[i].InputSchema
	if props, ok := schema["properties"].(map[string]any); ok {
		for p := range props {
			properties = append(properties, p)
		}
	}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}
	sort.Strings(properties)
	sort.Strings(required)
	return properties, required, nil
}

// Describe returns the full documentation of the tool named name.
func (c *Catalog) Describe(name string) (tooldoc.ToolDoc, error) {
	if _, ok := c.byName[name]; !ok {
		return tooldoc.ToolDoc{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return c.docs.DescribeTool(ID(name), tooldoc.DetailFull)
}

// Examples returns up to max usage examples for the tool named name.
func (c *Catalog) Examples(name string, max int) ([]tooldoc.ToolExample, error) {
	if _, ok := c.byName[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return c.docs.ListExamples(ID(name), max)
}

// Search returns up to limit tools matching query.
func (c *Catalog) Search(query string, limit int) ([]index.Summary, error) {
	return c.index.Search(query, limit)
}
