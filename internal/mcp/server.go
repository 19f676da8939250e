// Package mcp exposes pipeline execution to agents as Model Context
// Protocol tools over stdio.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/marcelocantos/vssh/internal/pipeline"
	"github.com/marcelocantos/vssh/internal/shell"
)

// RunArgs are the arguments of run_pipeline.
type RunArgs struct {
	Pipeline string `json:"pipeline"`
	Stdin    string `json:"stdin,omitempty"`
}

// RunResponse is the structured result of run_pipeline.
type RunResponse struct {
	ID       string          `json:"id" jsonschema_description:"Run identifier, also used in the audit log"`
	Stdout   string          `json:"stdout" jsonschema_description:"Standard output of the last stage"`
	Stderr   string          `json:"stderr" jsonschema_description:"Combined standard error of every stage and vssh diagnostics"`
	Stages   []StageResponse `json:"stages" jsonschema_description:"Per-stage outcome in pipeline order"`
	Channels int             `json:"channels" jsonschema_description:"Number of channels allocated between stages"`
}

// StageResponse describes one stage of a run.
type StageResponse struct {
	Raw      string   `json:"raw"`
	Argv     []string `json:"argv,omitempty"`
	Pid      int      `json:"pid,omitempty"`
	ExitCode int      `json:"exit_code"`
	Error    string   `json:"error,omitempty"`
}

// ParsedStage is one element of parse_pipeline's answer.
type ParsedStage struct {
	Raw    string   `json:"raw"`
	Argv   []string `json:"argv,omitempty"`
	Stdin  string   `json:"stdin,omitempty"`
	Stdout string   `json:"stdout,omitempty"`
	Empty  bool     `json:"empty,omitempty"`
}

// Config carries what every run shares.
type Config struct {
	Version string
	Dir     string
	Env     []string
	Policy  pipeline.Checker
	Logger  *zap.Logger
	// Observers see every completed run (audit, metrics).
	Observers []shell.Observer
}

// Server exposes vssh as an MCP server.
type Server struct {
	cfg       Config
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server and registers its tools.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "dev"
	}
	s := &Server{
		cfg:       cfg,
		mcpServer: server.NewMCPServer("vssh", version),
	}
	s.registerTools()
	return s
}

// ServeStdio serves on Stdin/Stdout until the client disconnects.
// Pipelines never see those streams: their stdin is the request's stdin
// argument (or the null device) and their output is captured.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	runTool := mcp.NewTool("run_pipeline",
		mcp.WithDescription("Run a pipeline of external programs, e.g. \"ls -l | grep go > out.txt\". "+
			"Stages are separated by |; < FILE and > FILE redirect a stage. "+
			"Arguments are split on whitespace: there is no quoting, globbing or variable expansion."),
		mcp.WithString("pipeline", mcp.Required(), mcp.Description("The pipeline to run")),
		mcp.WithString("stdin", mcp.Description("Text fed to the first stage's standard input (optional)")),
		mcp.WithOutputSchema[RunResponse](),
	)
	s.mcpServer.AddTool(runTool, mcp.NewStructuredToolHandler(s.handleRunPipeline))

	s.mcpServer.AddTool(mcp.NewTool("parse_pipeline",
		mcp.WithDescription("Show how a pipeline would be split into stages, argv and redirects without running it."),
		mcp.WithString("pipeline", mcp.Required(), mcp.Description("The pipeline to parse")),
	), s.handleParsePipeline)
}

func (s *Server) handleRunPipeline(ctx context.Context, request mcp.CallToolRequest, args RunArgs) (RunResponse, error) {
	stages := shell.Split(args.Pipeline)
	if len(stages) == 0 {
		return RunResponse{}, errors.New("pipeline is empty")
	}

	var stdout, stderr bytes.Buffer
	e := &pipeline.Executor{
		Stdout: &stdout,
		Stderr: &stderr,
		Dir:    s.cfg.Dir,
		Env:    s.cfg.Env,
		Logger: s.cfg.Logger.With(zap.String("via", "mcp")),
		Policy: s.cfg.Policy,
	}
	if args.Stdin != "" {
		e.Stdin = strings.NewReader(args.Stdin)
	}

	rep, err := e.Run(stages)
	if rep != nil {
		for _, o := range s.cfg.Observers {
			o.Observe(rep)
		}
	}
	if err != nil {
		return RunResponse{}, fmt.Errorf("%w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	resp := RunResponse{
		ID:       rep.ID,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Channels: rep.Channels,
	}
	for _, st := range rep.Stages {
		sr := StageResponse{Raw: st.Raw, Pid: st.Pid, ExitCode: st.ExitCode}
		if st.Command != nil {
			sr.Argv = st.Command.Args
		}
		if st.Err != nil {
			sr.Error = st.Err.Error()
		}
		resp.Stages = append(resp.Stages, sr)
	}
	return resp, nil
}

func (s *Server) handleParsePipeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line, err := request.RequireString("pipeline")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	parsed := []ParsedStage{}
	for _, raw := range shell.Split(line) {
		ps := ParsedStage{Raw: raw}
		c, err := pipeline.ParseStage(raw)
		if err != nil {
			ps.Empty = true
		} else {
			ps.Argv, ps.Stdin, ps.Stdout = c.Args, c.InputRedirect, c.OutputRedirect
		}
		parsed = append(parsed, ps)
	}

	jsonBytes, _ := json.Marshal(parsed)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
