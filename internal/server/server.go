// Package server is the MCP tool facade. It registers one tool per remote
// operation, authorizes every VM-scoped call through the access resolver,
// runs the operation over SSH and hands completed executions to the
// operation log off the request path.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wentf9/xops-mcp/pkg/access"
	"github.com/wentf9/xops-mcp/pkg/oplog"
	"github.com/wentf9/xops-mcp/pkg/probe"
	"github.com/wentf9/xops-mcp/pkg/ssh"
)

const serverName = "xops-mcp"

const instructions = "Remote operations over a registered VM inventory: " +
	"list reachable machines, probe them, inspect their distro, run commands " +
	"or scripts over SSH, and search the recorded execution history."

const (
	defaultProbeTimeout  = probe.DefaultTimeout
	defaultRecordTimeout = 30 * time.Second
)

// session is the slice of an established SSH connection the tools use.
type session interface {
	Run(ctx context.Context, command string, opts ssh.RunOptions) (*ssh.Result, error)
	RunScript(ctx context.Context, script string, opts ssh.RunOptions) (*ssh.Result, error)
	Close() error
}

// historyIndex is the slice of the operation log the tools use.
type historyIndex interface {
	Record(ctx context.Context, job oplog.Job) error
	Search(ctx context.Context, query string, opts oplog.SearchOptions) (*oplog.SearchResult, error)
	Statistics(ctx context.Context, opts oplog.StatisticsOptions) (*oplog.Statistics, error)
	Suggest(ctx context.Context, goal string, opts oplog.SuggestOptions) (*oplog.SuggestResult, error)
}

// Config assembles a Server.
type Config struct {
	Version  string
	Resolver *access.Resolver
	Index    *oplog.Index // nil when the history subsystem is not configured

	ProbeTimeout  time.Duration
	RecordTimeout time.Duration
}

// Server orchestrates resolver, executor and log index per tool call.
type Server struct {
	resolver *access.Resolver
	index    historyIndex
	mcp      *mcp.Server

	probeTimeout  time.Duration
	recordTimeout time.Duration

	dial     func(ctx context.Context, target ssh.Target) (session, error)
	probeTCP func(ctx context.Context, host string, port int, timeout time.Duration) probe.Result
}

// New builds the facade and registers its tools.
func New(cfg Config) *Server {
	s := &Server{
		resolver:      cfg.Resolver,
		probeTimeout:  cfg.ProbeTimeout,
		recordTimeout: cfg.RecordTimeout,
		probeTCP:      probe.TCP,
		dial: func(ctx context.Context, target ssh.Target) (session, error) {
			client, err := ssh.Dial(ctx, target)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
	if cfg.Index != nil {
		s.index = cfg.Index
	}
	if s.probeTimeout <= 0 {
		s.probeTimeout = defaultProbeTimeout
	}
	if s.recordTimeout <= 0 {
		s.recordTimeout = defaultRecordTimeout
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: serverName, Version: cfg.Version},
		&mcp.ServerOptions{Instructions: instructions},
	)
	s.register()
	return s
}

func (s *Server) register() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_vms",
		Description: "List the virtual machines the caller is authorized to operate on.",
	}, s.handleListVMs)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "is_vm_up",
		Description: "Check whether a VM is reachable on its SSH port and measure the connection latency.",
	}, s.handleIsVMUp)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "distro_info",
		Description: "Inspect a VM over SSH: distro release, kernel and architecture, init system, " +
			"package managers, remote identity and global IPv4 addresses. Probes that fail are " +
			"reported as notes instead of failing the call.",
	}, s.handleDistroInfo)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "run_command",
		Description: "Run a shell command on a VM under a login shell and return stdout, stderr and " +
			"the return code. A non-zero return code is reported in the result, not as a call failure.",
	}, s.handleRunCommand)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "run_script",
		Description: "Upload a script body to a VM, execute it under a login shell and return stdout, " +
			"stderr and the return code. The uploaded file is removed afterwards.",
	}, s.handleRunScript)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search_logs",
		Description: "Semantic search over recorded executions. Collections: 'commands' (default), " +
			"'stdout', 'stderr'. Optional host, user and recency filters.",
	}, s.handleSearchLogs)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "get_statistics",
		Description: "Aggregate usage statistics over recorded executions: success and failure counts, " +
			"most used hosts, most common commands and the most recent errors.",
	}, s.handleGetStatistics)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "suggest_commands",
		Description: "Suggest commands for a stated goal from previously successful executions, " +
			"ranked by similarity and annotated with each command's observed success rate.",
	}, s.handleSuggestCommands)
}

// Run serves a single MCP session on stdin/stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the streamable HTTP transport behind the credential
// middleware. Sessions are stateless so every request carries its own
// Authorization header.
func (s *Server) Handler() http.Handler {
	h := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return s.mcp },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
	return WithCredential(h)
}
