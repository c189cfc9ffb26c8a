package server

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/kernelmcp/catalog"
	"github.com/jonwraymond/kernelmcp/code"
	"github.com/jonwraymond/kernelmcp/kernel"
)

// SuccessText is shown when an execution produced nothing.
const SuccessText = "✓ Code executed successfully"

// RenderOptions selects optional parts of a rendered result.
type RenderOptions struct {
	// EchoCode includes the executed code.
	EchoCode bool

	// HTML appends an HTML view of the execution.
	HTML bool
}

// View is an execution and the kernel context it ran in.
type View struct {
	Code     string
	KernelID string
	Uptime   time.Duration
	Result   code.ExecuteResult
}

// Render converts an execution into ordered content: kernel info, the
// executed code, one resource per image, output, errors, a success line
// when nothing else was produced and finally the HTML view.
func Render(v View, opts RenderOptions) []mcp.Content {
	r := v.Result
	output := r.OutputText()
	errText := r.ErrorText()

	content := []mcp.Content{&mcp.TextContent{Text: kernelInfoLine(v)}}
	if opts.EchoCode {
		content = append(content, &mcp.TextContent{Text: "**Executed:**\n```python\n" + v.Code + "\n```"})
	}
	for _, img := range r.Images {
		content = append(content, &mcp.EmbeddedResource{Resource: &mcp.ResourceContents{
			URI:      fmt.Sprintf("image://%s/%s.%s", catalog.Namespace, uuid.NewString(), img.Extension()),
			MIMEType: img.MIMEType,
			Blob:     img.Data,
		}})
	}
	if output != "" {
		content = append(content, &mcp.TextContent{Text: "**Output:**\n```\n" + output + "\n```"})
	}
	if errText != "" {
		content = append(content, &mcp.TextContent{Text: "**Errors:**\n```python\n" + errText + "\n```"})
	}
	if output == "" && errText == "" && len(r.Images) == 0 {
		content = append(content, &mcp.TextContent{Text: SuccessText})
	}
	if opts.HTML {
		if page, err := renderHTML(v, output, errText); err == nil {
			content = append(content, &mcp.EmbeddedResource{Resource: &mcp.ResourceContents{
				URI:      fmt.Sprintf("ui://%s/result-%s", catalog.Namespace, uuid.NewString()),
				MIMEType: "text/html",
				Text:     page,
			}})
		}
	}
	return content
}

func kernelInfoLine(v View) string {
	if v.KernelID == "" {
		return "**Kernel Info:** no kernel available"
	}
	return fmt.Sprintf("**Kernel Info:** ID: `%s...` | Uptime: `%.1fs`", kernel.ShortID(v.KernelID), v.Uptime.Seconds())
}

type htmlImage struct {
	Src template.URL
}

type htmlView struct {
	KernelID string
	Uptime   string
	Code     string
	Images   []htmlImage
	Output   string
	Errors   string
	Success  bool
}

func renderHTML(v View, output, errText string) (string, error) {
	data := htmlView{
		KernelID: kernel.ShortID(v.KernelID),
		Uptime:   fmt.Sprintf("%.1fs", v.Uptime.Seconds()),
		Code:     v.Code,
		Output:   output,
		Errors:   errText,
		Success:  output == "" && errText == "" && len(v.Result.Images) == 0,
	}
	for _, img := range v.Result.Images {
		// Image bytes come from the kernel's own display data.
		src := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
		data.Images = append(data.Images, htmlImage{Src: template.URL(src)})
	}

	var buf bytes.Buffer
	if err := resultPage.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var resultPage = template.Must(template.New("result").Parse(`<div style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #1e1e1e; color: #d4d4d4; padding: 20px; border-radius: 8px; max-width: 100%;">
  <div style="display: flex; justify-content: space-between; align-items: center; margin-bottom: 16px; padding-bottom: 12px; border-bottom: 1px solid #333;">
    <div style="font-weight: 600; color: #569cd6; font-size: 14px;">Python Kernel</div>
    <div style="font-size: 12px; color: #858585;">ID: {{.KernelID}}... | Uptime: {{.Uptime}}</div>
  </div>
  <div style="margin-bottom: 16px;">
    <div style="margin-bottom: 8px; font-weight: 600; color: #4ec9b0; font-size: 13px;">Code:</div>
    <pre style="background: #252526; padding: 12px; border-radius: 4px; overflow-x: auto; margin: 0; border-left: 3px solid #569cd6;"><code class="language-python" style="font-family: Monaco, Menlo, Consolas, monospace; font-size: 13px; line-height: 1.5;">{{.Code}}</code></pre>
  </div>
{{- if .Images}}
  <div style="margin-bottom: 16px;">
    <div style="margin-bottom: 8px; font-weight: 600; color: #4ec9b0; font-size: 13px;">Images:</div>
{{- range .Images}}
    <img src="{{.Src}}" style="max-width: 100%; border-radius: 4px; margin-bottom: 8px;">
{{- end}}
  </div>
{{- end}}
{{- if .Output}}
  <div style="margin-bottom: 16px;">
    <div style="margin-bottom: 8px; font-weight: 600; color: #4ec9b0; font-size: 13px;">Output:</div>
    <pre style="background: #252526; padding: 12px; border-radius: 4px; overflow-x: auto; margin: 0; border-left: 3px solid #4ec9b0;"><code style="font-family: Monaco, Menlo, Consolas, monospace; font-size: 13px; line-height: 1.5;">{{.Output}}</code></pre>
  </div>
{{- end}}
{{- if .Errors}}
  <div style="margin-bottom: 16px;">
    <div style="margin-bottom: 8px; font-weight: 600; color: #f48771; font-size: 13px;">Errors:</div>
    <pre style="background: #3b1f1f; padding: 12px; border-radius: 4px; overflow-x: auto; margin: 0; border-left: 3px solid #f48771;"><code style="font-family: Monaco, Menlo, Consolas, monospace; font-size: 13px; line-height: 1.5; color: #f48771;">{{.Errors}}</code></pre>
  </div>
{{- end}}
{{- if .Success}}
  <div style="color: #4ec9b0; font-size: 13px;">` + SuccessText + `</div>
{{- end}}
</div>
`))
