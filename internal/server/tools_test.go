package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/wentf9/xops-mcp/internal/errors"
	"github.com/wentf9/xops-mcp/pkg/access"
	"github.com/wentf9/xops-mcp/pkg/config"
	"github.com/wentf9/xops-mcp/pkg/oplog"
	"github.com/wentf9/xops-mcp/pkg/probe"
	"github.com/wentf9/xops-mcp/pkg/ssh"
)

// testRegistry declares two VMs; with users, alice holds a key granting only
// web-01 so denial paths are reachable.
func testRegistry(t *testing.T, withUsers bool) *config.Registry {
	t.Helper()
	reg := &config.Registry{
		VMs: []config.VM{
			{Name: "web-01", Host: "10.0.0.5", Port: 2222, User: "deploy", Password: "pw"},
			{Name: "db-01", Host: "10.0.0.6", User: "postgres", Password: "pw"},
		},
	}
	if withUsers {
		reg.Groups = []config.Group{{Name: "web", VMs: []string{"web-01"}}}
		reg.Users = []config.User{{Name: "alice", APIKey: "alice-key", Groups: []string{"web"}}}
	}
	require.NoError(t, reg.Validate())
	return reg
}

func withKey(key string) context.Context {
	return context.WithValue(context.Background(), credentialKey{}, key)
}

type fakeSession struct {
	result *ssh.Result
	err    error

	lastCommand string
	lastScript  string
	lastOpts    ssh.RunOptions
	closed      bool
}

func (f *fakeSession) Run(_ context.Context, command string, opts ssh.RunOptions) (*ssh.Result, error) {
	f.lastCommand = command
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.Command = command
	return &res, nil
}

func (f *fakeSession) RunScript(_ context.Context, script string, opts ssh.RunOptions) (*ssh.Result, error) {
	f.lastScript = script
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.Command = "/tmp/xops-fake.sh"
	return &res, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeIndex struct {
	err      error
	recorded chan oplog.Job

	searchQuery  string
	searchOpts   oplog.SearchOptions
	searchResult *oplog.SearchResult

	statsOpts   oplog.StatisticsOptions
	statsResult *oplog.Statistics

	suggestGoal   string
	suggestOpts   oplog.SuggestOptions
	suggestResult *oplog.SuggestResult
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		recorded:      make(chan oplog.Job, 1),
		searchResult:  &oplog.SearchResult{},
		statsResult:   &oplog.Statistics{},
		suggestResult: &oplog.SuggestResult{},
	}
}

func (f *fakeIndex) Record(_ context.Context, job oplog.Job) error {
	f.recorded <- job
	return f.err
}

func (f *fakeIndex) Search(_ context.Context, query string, opts oplog.SearchOptions) (*oplog.SearchResult, error) {
	f.searchQuery = query
	f.searchOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.searchResult, nil
}

func (f *fakeIndex) Statistics(_ context.Context, opts oplog.StatisticsOptions) (*oplog.Statistics, error) {
	f.statsOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.statsResult, nil
}

func (f *fakeIndex) Suggest(_ context.Context, goal string, opts oplog.SuggestOptions) (*oplog.SuggestResult, error) {
	f.suggestGoal = goal
	f.suggestOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.suggestResult, nil
}

type probeCall struct {
	host    string
	port    int
	timeout time.Duration
}

// harness wires a Server to in-memory fakes and records every dial and
// probe it makes.
type harness struct {
	srv  *Server
	sess *fakeSession

	dialed  []ssh.Target
	dialErr error

	probed      []probeCall
	probeResult probe.Result
}

func newHarness(reg *config.Registry, index historyIndex) *harness {
	h := &harness{sess: &fakeSession{result: &ssh.Result{}}}
	h.srv = &Server{
		resolver:      access.NewResolver(reg),
		index:         index,
		probeTimeout:  2 * time.Second,
		recordTimeout: time.Second,
	}
	h.srv.dial = func(_ context.Context, target ssh.Target) (session, error) {
		h.dialed = append(h.dialed, target)
		if h.dialErr != nil {
			return nil, h.dialErr
		}
		return h.sess, nil
	}
	h.srv.probeTCP = func(_ context.Context, host string, port int, timeout time.Duration) probe.Result {
		h.probed = append(h.probed, probeCall{host: host, port: port, timeout: timeout})
		return h.probeResult
	}
	return h
}

func receiveJob(t *testing.T, idx *fakeIndex) oplog.Job {
	t.Helper()
	select {
	case job := <-idx.recorded:
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("no job recorded")
		return oplog.Job{}
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{Version: "test", Resolver: access.NewResolver(testRegistry(t, false))})
	require.NotNil(t, s.mcp)
	assert.Equal(t, defaultProbeTimeout, s.probeTimeout)
	assert.Equal(t, defaultRecordTimeout, s.recordTimeout)
	assert.Nil(t, s.index)
	assert.NotNil(t, s.Handler())
}

func TestListVMsDisabledMode(t *testing.T) {
	h := newHarness(testRegistry(t, false), nil)

	_, out, err := h.srv.handleListVMs(context.Background(), nil, ListVMsInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"web-01", "db-01"}, out.VMs)
}

func TestListVMsEnabledMode(t *testing.T) {
	h := newHarness(testRegistry(t, true), nil)

	_, out, err := h.srv.handleListVMs(withKey("alice-key"), nil, ListVMsInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"web-01"}, out.VMs)
}

func TestListVMsRejectsUnknownKey(t *testing.T) {
	h := newHarness(testRegistry(t, true), nil)

	_, _, err := h.srv.handleListVMs(withKey("stranger"), nil, ListVMsInput{})
	require.Error(t, err)
	assert.EqualError(t, err, errs.AuthMessage)
}

func TestListVMsRejectsMissingKey(t *testing.T) {
	h := newHarness(testRegistry(t, true), nil)

	_, _, err := h.srv.handleListVMs(context.Background(), nil, ListVMsInput{})
	require.Error(t, err)
	assert.EqualError(t, err, errs.AuthMessage)
}

func TestIsVMUpReachable(t *testing.T) {
	h := newHarness(testRegistry(t, true), nil)
	h.probeResult = probe.Result{Reachable: true, LatencyMS: 12.34}

	_, out, err := h.srv.handleIsVMUp(withKey("alice-key"), nil, IsVMUpInput{VMName: "web-01"})
	require.NoError(t, err)

	assert.Equal(t, "web-01", out.VM)
	assert.Equal(t, "10.0.0.5", out.Host)
	assert.Equal(t, 2222, out.Port)
	assert.True(t, out.Reachable)
	require.NotNil(t, out.LatencyMS)
	assert.Equal(t, 12.34, *out.LatencyMS)
	assert.Nil(t, out.Reason)

	require.Len(t, h.probed, 1)
	assert.Equal(t, probeCall{host: "10.0.0.5", port: 2222, timeout: 2 * time.Second}, h.probed[0])
}

func TestIsVMUpDown(t *testing.T) {
	h := newHarness(testRegistry(t, false), nil)
	h.probeResult = probe.Result{Reachable: false, Reason: "connection refused"}

	_, out, err := h.srv.handleIsVMUp(context.Background(), nil, IsVMUpInput{VMName: "db-01"})
	require.NoError(t, err)

	assert.Equal(t, config.DefaultSSHPort, out.Port)
	assert.False(t, out.Reachable)
	assert.Nil(t, out.LatencyMS)
	require.NotNil(t, out.Reason)
	assert.Equal(t, "connection refused", *out.Reason)
}

func TestIsVMUpDeniedBeforeProbe(t *testing.T) {
	h := newHarness(testRegistry(t, true), nil)

	_, _, err := h.srv.handleIsVMUp(withKey("alice-key"), nil, IsVMUpInput{VMName: "db-01"})
	require.Error(t, err)
	assert.EqualError(t, err, errs.AuthMessage)
	assert.Empty(t, h.probed)
}

func TestDistroInfoDegradesToNotes(t *testing.T) {
	h := newHarness(testRegistry(t, true), nil)
	h.sess.err = errors.New("session torn down")

	_, out, err := h.srv.handleDistroInfo(withKey("alice-key"), nil, DistroInfoInput{VMName: "web-01"})
	require.NoError(t, err)

	assert.Equal(t, "web-01", out.VM)
	assert.Equal(t, "10.0.0.5", out.Host)
	assert.Equal(t, 2222, out.Port)
	assert.Equal(t, "ok", out.Status)
	assert.NotEmpty(t, out.Notes)
	assert.True(t, h.sess.closed)
}

func TestDistroInfoDialError(t *testing.T) {
	h := newHarness(testRegistry(t, false), nil)
	h.dialErr = errors.New("no route to host")

	_, _, err := h.srv.handleDistroInfo(context.Background(), nil, DistroInfoInput{VMName: "web-01"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "no route to host")
}

func TestRunCommandStructuredResult(t *testing.T) {
	idx := newFakeIndex()
	h := newHarness(testRegistry(t, true), idx)
	h.sess.result = &ssh.Result{Stdout: "inactive\n", Stderr: "warn: stale pid\n", ExitCode: 3}

	_, out, err := h.srv.handleRunCommand(withKey("alice-key"), nil, RunCommandInput{
		VMName:     "web-01",
		Command:    "systemctl status nginx",
		Env:        map[string]string{"LANG": "C"},
		WorkingDir: "/srv",
	})
	require.NoError(t, err)

	assert.Equal(t, "systemctl status nginx", out.Command)
	assert.Equal(t, "executed", out.Status)
	assert.Equal(t, "inactive", out.Stdout)
	assert.Equal(t, "warn: stale pid", out.Stderr)
	assert.Equal(t, 3, out.ReturnCode)

	require.Len(t, h.dialed, 1)
	assert.Equal(t, "10.0.0.5", h.dialed[0].Host)
	assert.Equal(t, "deploy", h.dialed[0].User)
	assert.Equal(t, ssh.RunOptions{Env: map[string]string{"LANG": "C"}, Dir: "/srv"}, h.sess.lastOpts)
	assert.True(t, h.sess.closed)

	job := receiveJob(t, idx)
	assert.Equal(t, "web-01", job.Host)
	assert.Equal(t, "alice", job.User)
	assert.Equal(t, "systemctl status nginx", job.Command)
	assert.Equal(t, "inactive\n", job.Stdout)
	assert.Equal(t, "warn: stale pid\n", job.Stderr)
	assert.Equal(t, 3, job.ReturnCode)
}

func TestRunCommandDisabledModeRecordsLoginUser(t *testing.T) {
	idx := newFakeIndex()
	h := newHarness(testRegistry(t, false), idx)
	h.sess.result = &ssh.Result{Stdout: "ok"}

	_, _, err := h.srv.handleRunCommand(context.Background(), nil, RunCommandInput{
		VMName:  "db-01",
		Command: "uptime",
	})
	require.NoError(t, err)

	job := receiveJob(t, idx)
	assert.Equal(t, "db-01", job.Host)
	assert.Equal(t, "postgres", job.User)
}

func TestRunCommandSessionError(t *testing.T) {
	idx := newFakeIndex()
	h := newHarness(testRegistry(t, false), idx)
	h.sess.err = errs.WrapSessionError("run command", "web-01", errors.New("connection lost"))

	_, _, err := h.srv.handleRunCommand(context.Background(), nil, RunCommandInput{
		VMName:  "web-01",
		Command: "uptime",
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection lost")
	assert.Empty(t, idx.recorded)
}

func TestRunCommandDeniedBeforeDial(t *testing.T) {
	h := newHarness(testRegistry(t, true), nil)

	_, _, err := h.srv.handleRunCommand(withKey("stranger"), nil, RunCommandInput{
		VMName:  "web-01",
		Command: "uptime",
	})
	require.Error(t, err)
	assert.EqualError(t, err, errs.AuthMessage)
	assert.Empty(t, h.dialed)
}

func TestRunScript(t *testing.T) {
	idx := newFakeIndex()
	h := newHarness(testRegistry(t, true), idx)
	h.sess.result = &ssh.Result{Stdout: "done\n"}

	_, out, err := h.srv.handleRunScript(withKey("alice-key"), nil, RunScriptInput{
		VMName: "web-01",
		Script: "#!/bin/sh\necho done\n",
	})
	require.NoError(t, err)

	assert.Equal(t, "#!/bin/sh\necho done\n", h.sess.lastScript)
	assert.Equal(t, "/tmp/xops-fake.sh", out.Command)
	assert.Equal(t, "executed", out.Status)
	assert.Equal(t, "done", out.Stdout)
	assert.Equal(t, 0, out.ReturnCode)

	job := receiveJob(t, idx)
	assert.Equal(t, "/tmp/xops-fake.sh", job.Command)
	assert.Equal(t, "alice", job.User)
}

func TestHistoryToolsRequireIndex(t *testing.T) {
	h := newHarness(testRegistry(t, false), nil)
	ctx := context.Background()

	_, _, err := h.srv.handleSearchLogs(ctx, nil, SearchLogsInput{Query: "disk"})
	assert.ErrorIs(t, err, oplog.ErrNotConfigured)

	_, _, err = h.srv.handleGetStatistics(ctx, nil, GetStatisticsInput{})
	assert.ErrorIs(t, err, oplog.ErrNotConfigured)

	_, _, err = h.srv.handleSuggestCommands(ctx, nil, SuggestCommandsInput{Context: "free space"})
	assert.ErrorIs(t, err, oplog.ErrNotConfigured)
}

func TestSearchLogsPassesOptions(t *testing.T) {
	idx := newFakeIndex()
	idx.searchResult = &oplog.SearchResult{Query: "disk full", Collection: "ssh_stderr", TotalFound: 1}
	h := newHarness(testRegistry(t, true), idx)

	_, out, err := h.srv.handleSearchLogs(withKey("alice-key"), nil, SearchLogsInput{
		Query:      "disk full",
		Collection: "stderr",
		HostFilter: "web-01",
		UserFilter: "alice",
		TimeHours:  6,
		Limit:      3,
	})
	require.NoError(t, err)

	assert.Equal(t, "disk full", idx.searchQuery)
	assert.Equal(t, oplog.SearchOptions{
		Collection: "stderr",
		Host:       "web-01",
		User:       "alice",
		TimeHours:  6,
		Limit:      3,
	}, idx.searchOpts)
	assert.Equal(t, *idx.searchResult, out)
}

func TestSearchLogsHostFilterDenied(t *testing.T) {
	idx := newFakeIndex()
	h := newHarness(testRegistry(t, true), idx)

	_, _, err := h.srv.handleSearchLogs(withKey("alice-key"), nil, SearchLogsInput{
		Query:      "disk full",
		HostFilter: "db-01",
	})
	require.Error(t, err)
	assert.EqualError(t, err, errs.AuthMessage)
	assert.Empty(t, idx.searchQuery)
}

func TestSearchLogsHostFilterSkippedWhenDisabled(t *testing.T) {
	idx := newFakeIndex()
	h := newHarness(testRegistry(t, false), idx)

	// The filter may name a host that is no longer registered; history
	// filtering is a payload match, not a registry lookup.
	_, _, err := h.srv.handleSearchLogs(context.Background(), nil, SearchLogsInput{
		Query:      "kernel panic",
		HostFilter: "retired-vm",
	})
	require.NoError(t, err)
	assert.Equal(t, "retired-vm", idx.searchOpts.Host)
}

func TestGetStatisticsPassesOptions(t *testing.T) {
	idx := newFakeIndex()
	idx.statsResult = &oplog.Statistics{TimePeriodHours: 48, CommandsExecuted: 7}
	h := newHarness(testRegistry(t, false), idx)

	_, out, err := h.srv.handleGetStatistics(context.Background(), nil, GetStatisticsInput{
		TimeHours:  48,
		UserFilter: "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, oplog.StatisticsOptions{TimeHours: 48, User: "alice"}, idx.statsOpts)
	assert.Equal(t, *idx.statsResult, out)
}

func TestSuggestCommandsPassesOptions(t *testing.T) {
	idx := newFakeIndex()
	idx.suggestResult = &oplog.SuggestResult{Context: "check disk usage", TotalSuggestions: 1}
	h := newHarness(testRegistry(t, true), idx)

	_, out, err := h.srv.handleSuggestCommands(withKey("alice-key"), nil, SuggestCommandsInput{
		Context: "check disk usage",
		Host:    "web-01",
		Limit:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, "check disk usage", idx.suggestGoal)
	assert.Equal(t, oplog.SuggestOptions{Host: "web-01", Limit: 2}, idx.suggestOpts)
	assert.Equal(t, *idx.suggestResult, out)
}

func TestSuggestCommandsHostDenied(t *testing.T) {
	idx := newFakeIndex()
	h := newHarness(testRegistry(t, true), idx)

	_, _, err := h.srv.handleSuggestCommands(withKey("alice-key"), nil, SuggestCommandsInput{
		Context: "tune postgres",
		Host:    "db-01",
	})
	require.Error(t, err)
	assert.EqualError(t, err, errs.AuthMessage)
	assert.Empty(t, idx.suggestGoal)
}
