package skills

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpgate/pkg/logging"
)

// enrichTimeout bounds the whole connect/initialize/list sequence.
const enrichTimeout = 30 * time.Second

// EnrichToolCounts connects to the MCP server at endpoint (streamable HTTP
// transport), lists its tools, and fills each catalog skill's ToolCount
// with the number of its declared tools the server actually exposes.
//
// Enrichment is best effort: the counts are informational dialog content,
// so a failure is returned to the caller for a warning log but must not
// block serving.
func EnrichToolCounts(ctx context.Context, catalog *Catalog, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()

	mcpClient, err := client.NewStreamableHttpClient(endpoint)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}
	defer mcpClient.Close()

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "mcpgate",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("MCP initialize failed: %w", err)
	}

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("MCP tools/list failed: %w", err)
	}

	available := make(map[string]bool, len(result.Tools))
	for _, tool := range result.Tools {
		available[tool.Name] = true
	}

	counts := make(map[string]int)
	for _, skill := range catalog.All() {
		n := 0
		for _, toolName := range skill.Tools {
			if available[toolName] {
				n++
			}
		}
		counts[skill.ID] = n
	}
	catalog.SetToolCounts(counts)

	logging.Info("Skills", "Enriched tool counts from %s (%d tools exposed)", endpoint, len(result.Tools))
	return nil
}
