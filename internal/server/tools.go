package server

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	errs "github.com/wentf9/xops-mcp/internal/errors"
	"github.com/wentf9/xops-mcp/pkg/access"
	"github.com/wentf9/xops-mcp/pkg/config"
	"github.com/wentf9/xops-mcp/pkg/masking"
	"github.com/wentf9/xops-mcp/pkg/oplog"
	"github.com/wentf9/xops-mcp/pkg/osinfo"
	"github.com/wentf9/xops-mcp/pkg/ssh"
)

// authorize resolves the caller's credential from the request context and
// checks it against the named VM. The internal deny reason goes to the log;
// the caller only ever sees the generic message.
func (s *Server) authorize(ctx context.Context, vmName string) (*config.VM, error) {
	key := CredentialFromContext(ctx)
	vm, err := s.resolver.Authorize(key, vmName)
	if err != nil {
		logDenied(key, vmName, err)
		return nil, err
	}
	return vm, nil
}

// authorizeFilter applies the VM check to a history host filter. The filter
// only has to name an authorized VM while permissions are enabled; a
// disabled resolver accepts any host string, including hosts that have
// since left the registry.
func (s *Server) authorizeFilter(ctx context.Context, host string) error {
	if host == "" || s.resolver.Mode() == access.ModeDisabled {
		return nil
	}
	_, err := s.authorize(ctx, host)
	return err
}

func logDenied(key, vm string, err error) {
	evt := log.Warn().Str("api_key", masking.Mask(key))
	if vm != "" {
		evt = evt.Str("vm", vm)
	}
	var denied *errs.AuthError
	if errors.As(err, &denied) {
		evt = evt.Str("reason", string(denied.Reason))
	}
	evt.Msg("authorization denied")
}

func sshTarget(vm *config.VM) ssh.Target {
	return ssh.Target{
		Name:       vm.Name,
		Host:       vm.Host,
		Port:       vm.Port,
		User:       vm.User,
		Key:        vm.Key,
		KeyPath:    vm.KeyPath,
		Passphrase: vm.Passphrase,
		Password:   vm.Password,
	}
}

// record hands a finished execution to the history index off the request
// path. The job is attributed to the configured user behind the API key,
// falling back to the VM's login user when permissions are disabled.
// Indexing failures are logged and dropped.
func (s *Server) record(ctx context.Context, vm *config.VM, result *ssh.Result) {
	if s.index == nil {
		return
	}
	user := s.resolver.Requester(CredentialFromContext(ctx))
	if user == "" {
		user = vm.User
	}
	job := oplog.Job{
		Host:       vm.Name,
		User:       user,
		Command:    result.Command,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ReturnCode: result.ExitCode,
	}
	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), s.recordTimeout)
		defer cancel()
		if err := s.index.Record(rctx, job); err != nil {
			log.Warn().Err(err).
				Str("host", job.Host).
				Str("command", job.Command).
				Msg("history record failed")
		}
	}()
}

type ListVMsInput struct{}

type ListVMsOutput struct {
	VMs []string `json:"vms"`
}

func (s *Server) handleListVMs(ctx context.Context, _ *mcp.CallToolRequest, _ ListVMsInput) (*mcp.CallToolResult, ListVMsOutput, error) {
	key := CredentialFromContext(ctx)
	vms, err := s.resolver.Resolve(key)
	if err != nil {
		logDenied(key, "", err)
		return nil, ListVMsOutput{}, err
	}
	if vms == nil {
		vms = []string{}
	}
	return nil, ListVMsOutput{VMs: vms}, nil
}

type IsVMUpInput struct {
	VMName string `json:"vm_name" jsonschema:"name of the registered VM to probe"`
}

// IsVMUpOutput reports one reachability probe. Exactly one of LatencyMS and
// Reason is set, the other stays null.
type IsVMUpOutput struct {
	VM        string   `json:"vm"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Reachable bool     `json:"reachable"`
	LatencyMS *float64 `json:"latency_ms"`
	Reason    *string  `json:"reason"`
}

func (s *Server) handleIsVMUp(ctx context.Context, _ *mcp.CallToolRequest, in IsVMUpInput) (*mcp.CallToolResult, IsVMUpOutput, error) {
	vm, err := s.authorize(ctx, in.VMName)
	if err != nil {
		return nil, IsVMUpOutput{}, err
	}
	res := s.probeTCP(ctx, vm.Host, vm.Port, s.probeTimeout)
	out := IsVMUpOutput{
		VM:        vm.Name,
		Host:      vm.Host,
		Port:      vm.Port,
		Reachable: res.Reachable,
	}
	if res.Reachable {
		out.LatencyMS = &res.LatencyMS
	} else {
		out.Reason = &res.Reason
	}
	return nil, out, nil
}

type DistroInfoInput struct {
	VMName string `json:"vm_name" jsonschema:"name of the registered VM to inspect"`
}

type DistroInfoOutput struct {
	VM       string            `json:"vm"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Status   string            `json:"status"`
	Distro   osinfo.Distro     `json:"distro"`
	Platform osinfo.Platform   `json:"platform"`
	Network  osinfo.Network    `json:"network"`
	User     osinfo.RemoteUser `json:"user"`
	Notes    []string          `json:"notes,omitempty"`
}

func (s *Server) handleDistroInfo(ctx context.Context, _ *mcp.CallToolRequest, in DistroInfoInput) (*mcp.CallToolResult, DistroInfoOutput, error) {
	vm, err := s.authorize(ctx, in.VMName)
	if err != nil {
		return nil, DistroInfoOutput{}, err
	}
	client, err := s.dial(ctx, sshTarget(vm))
	if err != nil {
		return nil, DistroInfoOutput{}, err
	}
	defer client.Close()

	report := osinfo.Collect(ctx, client)
	return nil, DistroInfoOutput{
		VM:       vm.Name,
		Host:     vm.Host,
		Port:     vm.Port,
		Status:   "ok",
		Distro:   report.Distro,
		Platform: report.Platform,
		Network:  report.Network,
		User:     report.User,
		Notes:    report.Notes,
	}, nil
}

type RunCommandInput struct {
	VMName     string            `json:"vm_name" jsonschema:"name of the registered VM to run on"`
	Command    string            `json:"command" jsonschema:"shell command, executed under a login shell"`
	Env        map[string]string `json:"env,omitempty" jsonschema:"environment variables exported to the command"`
	WorkingDir string            `json:"working_dir,omitempty" jsonschema:"directory to change into before execution"`
}

type RunScriptInput struct {
	VMName     string            `json:"vm_name" jsonschema:"name of the registered VM to run on"`
	Script     string            `json:"script" jsonschema:"script body, uploaded and executed remotely; a shebang line selects the interpreter"`
	Env        map[string]string `json:"env,omitempty" jsonschema:"environment variables exported to the script"`
	WorkingDir string            `json:"working_dir,omitempty" jsonschema:"directory to change into before execution"`
}

// ExecutionOutput is the shared result shape of run_command and run_script.
// Status is "executed" whenever the remote command actually ran; a non-zero
// return code is carried here, it never fails the tool call.
type ExecutionOutput struct {
	Command    string `json:"command"`
	Status     string `json:"status"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
}

func executionOutput(result *ssh.Result) ExecutionOutput {
	return ExecutionOutput{
		Command:    result.Command,
		Status:     "executed",
		Stdout:     strings.TrimSpace(result.Stdout),
		Stderr:     strings.TrimSpace(result.Stderr),
		ReturnCode: result.ExitCode,
	}
}

func (s *Server) handleRunCommand(ctx context.Context, _ *mcp.CallToolRequest, in RunCommandInput) (*mcp.CallToolResult, ExecutionOutput, error) {
	vm, err := s.authorize(ctx, in.VMName)
	if err != nil {
		return nil, ExecutionOutput{}, err
	}
	client, err := s.dial(ctx, sshTarget(vm))
	if err != nil {
		return nil, ExecutionOutput{}, err
	}
	defer client.Close()

	result, err := client.Run(ctx, in.Command, ssh.RunOptions{Env: in.Env, Dir: in.WorkingDir})
	if err != nil {
		return nil, ExecutionOutput{}, err
	}

	s.record(ctx, vm, result)
	return nil, executionOutput(result), nil
}

func (s *Server) handleRunScript(ctx context.Context, _ *mcp.CallToolRequest, in RunScriptInput) (*mcp.CallToolResult, ExecutionOutput, error) {
	vm, err := s.authorize(ctx, in.VMName)
	if err != nil {
		return nil, ExecutionOutput{}, err
	}
	client, err := s.dial(ctx, sshTarget(vm))
	if err != nil {
		return nil, ExecutionOutput{}, err
	}
	defer client.Close()

	result, err := client.RunScript(ctx, in.Script, ssh.RunOptions{Env: in.Env, Dir: in.WorkingDir})
	if err != nil {
		return nil, ExecutionOutput{}, err
	}

	s.record(ctx, vm, result)
	return nil, executionOutput(result), nil
}

type SearchLogsInput struct {
	Query      string `json:"query" jsonschema:"natural language description of the executions to find"`
	Collection string `json:"collection,omitempty" jsonschema:"log collection to search: commands (default), stdout or stderr"`
	HostFilter string `json:"host_filter,omitempty" jsonschema:"restrict results to one VM by name"`
	UserFilter string `json:"user_filter,omitempty" jsonschema:"restrict results to executions requested by one user"`
	TimeHours  int    `json:"time_hours,omitempty" jsonschema:"only executions from the last N hours"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

func (s *Server) handleSearchLogs(ctx context.Context, _ *mcp.CallToolRequest, in SearchLogsInput) (*mcp.CallToolResult, oplog.SearchResult, error) {
	if s.index == nil {
		return nil, oplog.SearchResult{}, oplog.ErrNotConfigured
	}
	if err := s.authorizeFilter(ctx, in.HostFilter); err != nil {
		return nil, oplog.SearchResult{}, err
	}
	res, err := s.index.Search(ctx, in.Query, oplog.SearchOptions{
		Collection: in.Collection,
		Host:       in.HostFilter,
		User:       in.UserFilter,
		TimeHours:  in.TimeHours,
		Limit:      in.Limit,
	})
	if err != nil {
		return nil, oplog.SearchResult{}, err
	}
	return nil, *res, nil
}

type GetStatisticsInput struct {
	TimeHours  int    `json:"time_hours,omitempty" jsonschema:"aggregation window in hours, default 24"`
	HostFilter string `json:"host_filter,omitempty" jsonschema:"restrict to executions on one VM"`
	UserFilter string `json:"user_filter,omitempty" jsonschema:"restrict to executions requested by one user"`
}

func (s *Server) handleGetStatistics(ctx context.Context, _ *mcp.CallToolRequest, in GetStatisticsInput) (*mcp.CallToolResult, oplog.Statistics, error) {
	if s.index == nil {
		return nil, oplog.Statistics{}, oplog.ErrNotConfigured
	}
	if err := s.authorizeFilter(ctx, in.HostFilter); err != nil {
		return nil, oplog.Statistics{}, err
	}
	stats, err := s.index.Statistics(ctx, oplog.StatisticsOptions{
		TimeHours: in.TimeHours,
		Host:      in.HostFilter,
		User:      in.UserFilter,
	})
	if err != nil {
		return nil, oplog.Statistics{}, err
	}
	return nil, *stats, nil
}

type SuggestCommandsInput struct {
	Context string `json:"context" jsonschema:"what you are trying to accomplish"`
	Host    string `json:"host,omitempty" jsonschema:"bias suggestions toward history from this VM"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of suggestions, default 5"`
}

func (s *Server) handleSuggestCommands(ctx context.Context, _ *mcp.CallToolRequest, in SuggestCommandsInput) (*mcp.CallToolResult, oplog.SuggestResult, error) {
	if s.index == nil {
		return nil, oplog.SuggestResult{}, oplog.ErrNotConfigured
	}
	if err := s.authorizeFilter(ctx, in.Host); err != nil {
		return nil, oplog.SuggestResult{}, err
	}
	res, err := s.index.Suggest(ctx, in.Context, oplog.SuggestOptions{Host: in.Host, Limit: in.Limit})
	if err != nil {
		return nil, oplog.SuggestResult{}, err
	}
	return nil, *res, nil
}
