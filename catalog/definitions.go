package catalog

import (
	"strings"

	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Instructions returns the server-level guidance sent to clients on
// initialize. startupCode is what every new kernel runs before its first
// execution.
func Instructions(startupCode []string) string {
	var b strings.Builder
	b.WriteString("PyKernel allows an agent to run python code in a jupyter kernel without writing " +
		"out a python file.\n Use this for quick analysis when the user has not explicitly " +
		"asked to create a python file. The kernel persists between calls, but could restart " +
		"without warning. If that happens, reinitialize it as needed.\n\n")
	var lines []string
	for _, snippet := range startupCode {
		if s := strings.TrimSpace(snippet); s != "" {
			lines = append(lines, s)
		}
	}
	if len(lines) > 0 {
		b.WriteString("The kernel comes preconfigured with:\n")
		b.WriteString(strings.Join(lines, "\n"))
	} else {
		b.WriteString("The kernel starts with nothing imported.")
	}
	b.WriteString("\n\nDO NOT REPRINT THE CODE YOU SEND AFTER EXECUTION!")
	return b.String()
}

func boolPtr(b bool) *bool { return &b }

var emptySchema = map[string]any{"type": "object"}

// Definitions returns the server's tool definitions.
func Definitions() []Def {
	return []Def{
		{
			Name:  ExecutePython,
			Title: "Execute Python",
			Description: "Execute Python code in a persistent IPython kernel. " +
				"The kernel maintains state between executions, so variables and imports persist across calls. " +
				"Returns stdout, results, images and errors.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code":            map[string]any{"type": "string", "description": "Python code to execute"},
					"timeout_seconds": map[string]any{"type": "number", "description": "Execution timeout in seconds"},
				},
				"required": []any{"code"},
			},
			Annotations: &mcp.ToolAnnotations{
				Title:           "Execute Python",
				DestructiveHint: boolPtr(false),
				OpenWorldHint:   boolPtr(true),
			},
			Tags: []string{"python", "execute", "kernel", "code"},
			Doc: tooldoc.DocEntry{
				Summary: "Run Python code in the shared kernel",
				Notes: "Executions are queued and run one at a time. State persists until the kernel restarts. " +
					"A timed out execution is interrupted; a kernel that ignores the interrupt is restarted and loses its state.",
				Examples: []tooldoc.ToolExample{
					{
						ID:          "print",
						Title:       "Print a value",
						Description: "Stdout is returned as output",
						Args:        map[string]any{"code": "print(6 * 7)"},
						ResultHint:  "42",
					},
					{
						ID:          "plot",
						Title:       "Plot a figure",
						Description: "Figures are returned as embedded images",
						Args:        map[string]any{"code": "plt.plot([1, 2, 3]); plt.show()"},
						ResultHint:  "image://pykernel/<id>.png",
					},
					{
						ID:          "long",
						Title:       "Longer timeout",
						Description: "Raise the timeout for slow code",
						Args:        map[string]any{"code": "import time; time.sleep(45)", "timeout_seconds": 60},
					},
				},
			},
		},
		{
			Name:        InstallPackage,
			Title:       "Install Package",
			Description: "Install a Python package in the kernel using pip.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"package": map[string]any{"type": "string", "description": "Package specifier, e.g. requests or pandas>=2.0"},
				},
				"required": []any{"package"},
			},
			Annotations: &mcp.ToolAnnotations{
				Title:           "Install Package",
				DestructiveHint: boolPtr(false),
				IdempotentHint:  true,
				OpenWorldHint:   boolPtr(true),
			},
			Tags: []string{"python", "pip", "install", "package"},
			Doc: tooldoc.DocEntry{
				Summary: "Install packages into the kernel with pip",
				Notes: "Accepts whitespace separated requirement specifiers and the options -U, --upgrade, --pre, -q, --quiet and --no-deps. " +
					"Shell metacharacters are rejected.",
				Examples: []tooldoc.ToolExample{
					{ID: "single", Title: "Install one package", Args: map[string]any{"package": "requests"}},
					{ID: "pinned", Title: "Install a pinned version", Args: map[string]any{"package": "pandas>=2.0,<3"}},
				},
			},
		},
		{
			Name:        RestartKernel,
			Title:       "Restart Kernel",
			Description: "Restart the Python kernel, clearing all state. All variables, imports, and functions will be lost. A new kernel ID will be assigned.",
			InputSchema: emptySchema,
			Annotations: &mcp.ToolAnnotations{
				Title:           "Restart Kernel",
				DestructiveHint: boolPtr(true),
				OpenWorldHint:   boolPtr(false),
			},
			Tags: []string{"kernel", "restart", "reset"},
			Doc: tooldoc.DocEntry{
				Summary: "Replace the kernel with a fresh one",
				Notes:   "Any running execution is aborted.",
			},
		},
		{
			Name:        KernelStatus,
			Title:       "Kernel Status",
			Description: "Get current kernel status and metadata, including uptime, kernel ID, and whether it's currently running.",
			InputSchema: emptySchema,
			Annotations: &mcp.ToolAnnotations{
				Title:         "Kernel Status",
				ReadOnlyHint:  true,
				OpenWorldHint: boolPtr(false),
			},
			Tags: []string{"kernel", "status"},
			Doc: tooldoc.DocEntry{
				Summary: "Report the kernel's state",
				Notes:   "Does not start a kernel.",
			},
		},
		{
			Name:        InterruptKernel,
			Title:       "Interrupt Kernel",
			Description: "Interrupt the code currently running in the kernel, raising KeyboardInterrupt. State is kept.",
			InputSchema: emptySchema,
			Annotations: &mcp.ToolAnnotations{
				Title:           "Interrupt Kernel",
				DestructiveHint: boolPtr(false),
				IdempotentHint:  true,
				OpenWorldHint:   boolPtr(false),
			},
			Tags: []string{"kernel", "interrupt", "cancel"},
			Doc: tooldoc.DocEntry{
				Summary: "Interrupt the running execution",
			},
		},
		{
			Name:        ExecutionHistory,
			Title:       "Execution History",
			Description: "List recent executions with their status, output size and duration.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{"type": "integer", "description": "Number of entries to return (default 10, max 100)"},
				},
			},
			Annotations: &mcp.ToolAnnotations{
				Title:         "Execution History",
				ReadOnlyHint:  true,
				OpenWorldHint: boolPtr(false),
			},
			Tags: []string{"history", "journal", "executions"},
			Doc: tooldoc.DocEntry{
				Summary: "Show recent executions, newest first",
				Examples: []tooldoc.ToolExample{
					{ID: "last", Title: "Last five executions", Args: map[string]any{"limit": 5}},
				},
			},
		},
	}
}
