package mcp

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kubechat/kubechat/pkg/types"
)

// convertTool converts an MCP tool definition to chat tool format.
func convertTool(mcpTool *mcp.Tool) types.Tool {
	params := map[string]any{
		"type": "object",
	}

	// Providers reject tools without a properties object.
	if len(mcpTool.InputSchema.Properties) > 0 {
		params["properties"] = mcpTool.InputSchema.Properties
	} else {
		params["properties"] = map[string]any{}
	}
	if len(mcpTool.InputSchema.Required) > 0 {
		params["required"] = mcpTool.InputSchema.Required
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		paramsJSON = []byte(`{"type":"object","properties":{}}`)
	}

	return types.Tool{
		Type: "function",
		Function: types.ToolFunction{
			Name:        mcpTool.Name,
			Description: mcpTool.Description,
			Parameters:  paramsJSON,
		},
	}
}

// parseArguments decodes a model-provided JSON argument string.
// An empty string means no arguments.
func parseArguments(argsJSON string) (map[string]any, error) {
	if strings.TrimSpace(argsJSON) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// extractText flattens an MCP tool response into plain text for the model.
func extractText(resp *mcp.CallToolResult, toolName string) string {
	if resp == nil {
		return fmt.Sprintf("Tool '%s' executed successfully", toolName)
	}

	var out strings.Builder
	for _, content := range resp.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			out.WriteString(c.Text)
		case mcp.ImageContent:
			out.WriteString(fmt.Sprintf("[Image: %s]", c.MIMEType))
		case mcp.AudioContent:
			out.WriteString(fmt.Sprintf("[Audio: %s]", c.MIMEType))
		case mcp.EmbeddedResource:
			out.WriteString(fmt.Sprintf("[Resource: %s]", c.Type))
		default:
			if data, err := json.Marshal(content); err == nil {
				out.Write(data)
			}
		}
	}

	if out.Len() > 0 {
		return strings.TrimSpace(out.String())
	}
	return fmt.Sprintf("Tool '%s' executed successfully", toolName)
}
