// Package mcpserver exposes analyses over the Model Context Protocol so that
// MCP hosts can ask for a risk report the same way the CLI does.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ytnobody/riskcrew/internal/chatlog"
	"github.com/ytnobody/riskcrew/internal/orchestrator"
	"github.com/ytnobody/riskcrew/internal/records"
	"github.com/ytnobody/riskcrew/internal/report"
)

// Analyzer runs analyses. *orchestrator.Service implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
	Records() records.Store
	Transcript(sessionID string) ([]chatlog.Message, error)
}

// Server wraps the MCP SDK server with the analysis tools registered.
type Server struct {
	MCPServer *sdkmcp.Server

	analyzer Analyzer
	logger   *zap.Logger
}

func New(analyzer Analyzer, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "riskcrew", Version: version}, nil),
		analyzer:  analyzer,
		logger:    logger,
	}
	s.registerTools()
	return s
}

// Run serves over stdin/stdout until ctx is cancelled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "analyze",
		Description: "Analyse the bank-branch reviews for the question and return a risk report reviewed by the critic.",
	}, s.handleAnalyze)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_branches",
		Description: "List bank branches, optionally filtered by a name or address fragment.",
	}, s.handleListBranches)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_transcript",
		Description: "Return the agents' transcript of a finished analysis by the session_id the analyze tool reported.",
	}, s.handleGetTranscript)
}

type analyzeInput struct {
	Question     string `json:"question" jsonschema:"what to analyse, e.g. find operational-risk incidents in the branches"`
	MaxRevisions int    `json:"max_revisions,omitempty" jsonschema:"maximum report revisions (default from config)"`
	MaxPartChars int    `json:"max_part_chars,omitempty" jsonschema:"also split the report into parts of at most this many bytes"`
}

type analyzeOutput struct {
	SessionID string   `json:"session_id"`
	Approved  bool     `json:"approved"`
	Revisions int      `json:"revisions"`
	State     string   `json:"state"`
	Report    string   `json:"report"`
	Parts     []string `json:"parts,omitempty"`
}

type listBranchesInput struct {
	Query string `json:"query,omitempty" jsonschema:"case-insensitive name or address fragment"`
}

type listBranchesOutput struct {
	Branches []records.Branch `json:"branches"`
}

type getTranscriptInput struct {
	SessionID string `json:"session_id" jsonschema:"session_id returned by the analyze tool"`
}

type transcriptEntry struct {
	Time    string `json:"time"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type getTranscriptOutput struct {
	Entries []transcriptEntry `json:"entries"`
}

func (s *Server) handleAnalyze(ctx context.Context, _ *sdkmcp.CallToolRequest, input analyzeInput) (*sdkmcp.CallToolResult, analyzeOutput, error) {
	if input.Question == "" {
		return nil, analyzeOutput{}, fmt.Errorf("question is required")
	}
	if input.MaxRevisions < 0 {
		return nil, analyzeOutput{}, fmt.Errorf("max_revisions must not be negative")
	}

	res, err := s.analyzer.Analyze(ctx, orchestrator.Request{
		Question:     input.Question,
		MaxRevisions: input.MaxRevisions,
	})
	if err != nil {
		s.logger.Warn("analyze tool failed", zap.Error(err))
		var failed *orchestrator.AnalysisFailedError
		if errors.As(err, &failed) {
			return nil, analyzeOutput{}, errors.New(failed.UserMessage())
		}
		return nil, analyzeOutput{}, err
	}

	out := analyzeOutput{
		SessionID: res.SessionID,
		Approved:  res.Approved,
		Revisions: res.Revisions,
		State:     res.State.String(),
		Report:    res.Text,
	}
	if input.MaxPartChars > 0 {
		out.Parts = report.Split(res.Text, input.MaxPartChars)
	}
	return nil, out, nil
}

func (s *Server) handleListBranches(ctx context.Context, _ *sdkmcp.CallToolRequest, input listBranchesInput) (*sdkmcp.CallToolResult, listBranchesOutput, error) {
	store := s.analyzer.Records()
	if store == nil {
		return nil, listBranchesOutput{}, fmt.Errorf("no record store configured")
	}
	branches, err := records.SearchBranches(ctx, store, input.Query)
	if err != nil {
		return nil, listBranchesOutput{}, fmt.Errorf("list_branches: %w", err)
	}
	if branches == nil {
		branches = []records.Branch{}
	}
	return nil, listBranchesOutput{Branches: branches}, nil
}

func (s *Server) handleGetTranscript(_ context.Context, _ *sdkmcp.CallToolRequest, input getTranscriptInput) (*sdkmcp.CallToolResult, getTranscriptOutput, error) {
	if input.SessionID == "" {
		return nil, getTranscriptOutput{}, fmt.Errorf("session_id is required")
	}
	msgs, err := s.analyzer.Transcript(input.SessionID)
	if err != nil {
		return nil, getTranscriptOutput{}, fmt.Errorf("get_transcript: %w", err)
	}
	out := getTranscriptOutput{Entries: make([]transcriptEntry, 0, len(msgs))}
	for _, m := range msgs {
		out.Entries = append(out.Entries, transcriptEntry{
			Time:    m.Timestamp.Format("2006-01-02T15:04:05"),
			Speaker: m.Speaker,
			Text:    m.Body,
		})
	}
	return nil, out, nil
}
