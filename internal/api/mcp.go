package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docmind/internal/document"
)

// ingestDeadline bounds a synchronous upload through MCP.
const ingestDeadline = 5 * time.Minute

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Docs     DocumentService
	Insights InsightsSource // optional; if nil, get_insights returns an error
	// MaxUploadBytes bounds files read by upload_document; defaults to 32MB.
	MaxUploadBytes int64
}

// NewMCPServer creates an MCP server with all docmind tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"docmind",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("docmind answers questions about uploaded PDF documents and reports insights on them."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List uploaded documents with their ingest status."),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("upload_document",
			mcp.WithDescription("Upload a local PDF file and index it for questions."),
			mcp.WithString("path", mcp.Description("Absolute path of the PDF file"), mcp.Required()),
		),
		mcpUploadDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_document",
			mcp.WithDescription("Answer a question from the content of one document, citing pages."),
			mcp.WithString("doc_id", mcp.Description("Document id returned by upload"), mcp.Required()),
			mcp.WithString("question", mcp.Description("Question to answer"), mcp.Required()),
			mcp.WithNumber("k", mcp.Description("Number of passages to retrieve (default 4)")),
		),
		mcpAskDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("get_insights",
			mcp.WithDescription("Return the summary, topics, entities and sentiment extracted from a document."),
			mcp.WithString("doc_id", mcp.Description("Document id"), mcp.Required()),
		),
		mcpGetInsights(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"docs://documents",
			"Documents",
			mcp.WithResourceDescription("All uploaded documents and their status as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(docSummaries(deps.Docs.List()))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpUploadDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		info, err := os.Stat(path)
		if err != nil {
			return mcpError(fmt.Sprintf("cannot read %s: %v", path, err)), nil
		}
		limit := deps.MaxUploadBytes
		if limit <= 0 {
			limit = defaultMaxUploadBytes
		}
		if info.Size() > limit {
			return mcpError(fmt.Sprintf("%s is %d bytes, limit is %d", path, info.Size(), limit)), nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return mcpError(fmt.Sprintf("cannot read %s: %v", path, err)), nil
		}

		doc, err := deps.Docs.Upload(ctx, filepath.Base(path), data)
		if err != nil {
			return mcpError(fmt.Sprintf("upload failed: %v", err)), nil
		}

		ictx, cancel := context.WithTimeout(ctx, ingestDeadline)
		defer cancel()
		if err := deps.Docs.Ingest(ictx, doc.ID, data); err != nil {
			return mcpError(fmt.Sprintf("document %s failed to ingest (%s): %v", doc.ID, document.KindOf(err), err)), nil
		}

		ready, err := deps.Docs.Status(doc.ID)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Indexed %s as %s (%d pages, %d chunks)",
			ready.Filename, ready.ID, ready.PageCount, ready.NumChunks)), nil
	}
}

func mcpAskDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docID, err := req.RequireString("doc_id")
		if err != nil {
			return mcpError("doc_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		k := req.GetInt("k", 0)

		ans, err := deps.Docs.Answer(ctx, docID, question, k)
		if err != nil {
			return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
		}
		b, err := json.Marshal(ans)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetInsights(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Insights == nil {
			return mcpError("insights extraction is disabled"), nil
		}
		docID, err := req.RequireString("doc_id")
		if err != nil {
			return mcpError("doc_id is required"), nil
		}
		if _, err := deps.Docs.Status(docID); err != nil {
			return mcpError(err.Error()), nil
		}

		rec, ok, err := deps.Insights.Get(docID)
		if err != nil {
			return mcpError(fmt.Sprintf("reading insights: %v", err)), nil
		}
		if !ok {
			return mcpText(fmt.Sprintf(`{"status":%q,"doc_id":%q}`, document.InsightsPending, docID)), nil
		}
		b, err := json.Marshal(insightsResponse{
			Status:   rec.Status,
			DocID:    docID,
			Insights: rec.Insights,
			Error:    rec.Error,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal insights: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceDocuments(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(docSummaries(deps.Docs.List()))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

type docSummary struct {
	DocID     string         `json:"doc_id"`
	Filename  string         `json:"filename"`
	Status    document.State `json:"status"`
	PageCount int            `json:"page_count"`
	CreatedAt string         `json:"created_at"`
	Error     string         `json:"error,omitempty"`
}

func docSummaries(docs []document.Document) []docSummary {
	out := make([]docSummary, len(docs))
	for i, d := range docs {
		out[i] = docSummary{
			DocID:     d.ID,
			Filename:  d.Filename,
			Status:    d.State,
			PageCount: d.PageCount,
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
			Error:     d.Error,
		}
	}
	return out
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
