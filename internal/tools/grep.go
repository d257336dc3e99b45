package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/riftloop/agentkernel/internal/filesearch"
	"github.com/riftloop/agentkernel/internal/mcp"
)

// GrepArgs represents arguments for the Grep tool.
type GrepArgs struct {
	Pattern       string `json:"pattern"`
	Path          string `json:"path,omitempty"`
	ContentSearch bool   `json:"content_search,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

// NewGrepTool creates the Grep tool definition.
func NewGrepTool() mcp.Tool {
	return mcp.Tool{
		Name:        "Grep",
		Description: `Searches the workspace for a regex pattern, either by filename or file content. Returns matching paths and, for content searches, the matching line and line number. Use this to locate code before Read/Edit.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern":        {"type": "string", "description": "Regular expression to search for"},
				"path":           {"type": "string", "description": "Directory to search from (defaults to the workspace root)"},
				"content_search": {"type": "boolean", "description": "Search file contents instead of filenames"},
				"max_results":    {"type": "integer", "description": "Cap on the number of results (0 = unlimited)"},
				"case_sensitive": {"type": "boolean", "description": "Match case-sensitively"}
			},
			"required": ["pattern"]
		}`),
	}
}

// MakeGrepHandler creates a handler that searches rootDir with
// filesearch.Searcher, the teacher's gitignore-aware walker.
func MakeGrepHandler(rootDir string) mcp.ToolHandler {
	return func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args GrepArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.Pattern == "" {
			return toolError("pattern cannot be empty"), nil
		}

		searchRoot := rootDir
		if args.Path != "" {
			searchRoot = args.Path
		}

		searcher, err := filesearch.NewSearcher(searchRoot)
		if err != nil {
			return toolError("Failed to start search: %v", err), nil
		}

		results, err := searcher.Search(ctx, filesearch.Options{
			Pattern:       args.Pattern,
			ContentSearch: args.ContentSearch,
			MaxResults:    args.MaxResults,
			CaseSensitive: args.CaseSensitive,
			RootDir:       searchRoot,
		})
		if err != nil {
			return toolError("Search failed: %v", err), nil
		}

		if len(results) == 0 {
			return toolText("No matches found."), nil
		}

		var b strings.Builder
		for _, r := range results {
			if r.Line > 0 {
				fmt.Fprintf(&b, "%s:%d: %s\n", r.Path, r.Line, r.Content)
			} else {
				fmt.Fprintf(&b, "%s\n", r.Path)
			}
		}
		return toolText(b.String()), nil
	}
}
