// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Ansuz tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/studyservice"
)

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp *server.MCPServer
	svc *studyservice.Service
}

// New creates a new MCP server with all Ansuz tools registered.
func New(svc *studyservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_transcripts",
		mcp.WithDescription("Full-text search through cached transcripts of processed documents."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchTranscripts)

	s.mcp.AddTool(mcp.NewTool("get_topics",
		mcp.WithDescription("Get the topic clusters generated for a processed document. "+
			"The returned JSON follows the artifact format; read it via the "+
			"get_artifact_contract tool or the ansuz://artifact-format resource."),
		mcp.WithString("content_hash", mcp.Required(), mcp.Description("Content hash of the document")),
	), s.getTopics)

	s.mcp.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Get the raw extracted text for a processed document."),
		mcp.WithString("content_hash", mcp.Required(), mcp.Description("Content hash of the document")),
	), s.getTranscript)

	s.mcp.AddTool(mcp.NewTool("expand_bullet",
		mcp.WithDescription("Expand a topic bullet point into elaborated sub-bullets. "+
			"Repeating a request returns the stored expansion without regenerating it. "+
			"Pass parent_key to drill into a generated sub-bullet; depth is capped at two layers."),
		mcp.WithString("content_hash", mcp.Required(), mcp.Description("Content hash of the document")),
		mcp.WithString("topic_id", mcp.Required(), mcp.Description("Topic id within the document")),
		mcp.WithString("bullet", mcp.Required(), mcp.Description("Bullet text to expand")),
		mcp.WithString("parent_key", mcp.Description("Key of the parent expansion for layer-2 requests")),
	), s.expandBullet)

	s.mcp.AddTool(mcp.NewTool("cache_stats",
		mcp.WithDescription("Report cache entry counts and total size."),
	), s.cacheStats)

	s.mcp.AddTool(mcp.NewTool("get_artifact_contract",
		mcp.WithDescription("Returns the JSON format of persisted artifacts. "+
			"Call this before parsing get_topics output."),
	), s.getArtifactContract)

	// Resource: artifact format contract.
	s.mcp.AddResource(
		mcp.NewResource("ansuz://artifact-format", "Artifact Format Contract",
			mcp.WithResourceDescription("JSON shapes of cached artifacts and expansion nodes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readArtifactFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchTranscripts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getTopics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := req.RequireString("content_hash")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	artifact, err := s.svc.Artifact(ctx, hash)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no artifact for hash %s", hash)), nil
	}
	out, _ := json.MarshalIndent(artifact.Topics, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := req.RequireString("content_hash")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := s.svc.Transcript(ctx, hash)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no transcript for hash %s", hash)), nil
	}
	return mcp.NewToolResultText(raw.Text), nil
}

func (s *Server) expandBullet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := req.RequireString("content_hash")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topicID, err := req.RequireString("topic_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bullet, err := req.RequireString("bullet")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	parentKey := ""
	if pk, pkErr := req.RequireString("parent_key"); pkErr == nil {
		parentKey = pk
	}

	node, expandErr := s.svc.Expand(ctx, hash, topicID, bullet, parentKey)
	if expandErr != nil && node == nil {
		return mcp.NewToolResultError(expandErr.Error()), nil
	}
	// A depth-capped request still answers with the capped node.
	out, _ := json.MarshalIndent(node, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) cacheStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.svc.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getArtifactContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ArtifactFormatContract), nil
}

func (s *Server) readArtifactFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "ansuz://artifact-format",
			MIMEType: "text/markdown",
			Text:     ArtifactFormatContract,
		},
	}, nil
}
