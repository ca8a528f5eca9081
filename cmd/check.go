package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	ping "github.com/prometheus-community/pro-bing"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wentf9/xops-mcp/pkg/config"
	"github.com/wentf9/xops-mcp/pkg/probe"
)

type CheckOptions struct {
	Ping        bool
	Concurrency int
	Timeout     time.Duration
}

func NewCheckOptions() *CheckOptions {
	return &CheckOptions{Concurrency: 8, Timeout: probe.DefaultTimeout}
}

func NewCmdCheck() *cobra.Command {
	o := NewCheckOptions()
	cmd := &cobra.Command{
		Use:   "check [vm...]",
		Short: "Probe registered VMs and report which are reachable",
		Long: `Probes the SSH port of every registered VM over TCP, or only the VMs
named as arguments, and prints one line per VM. Exits non-zero when any
probed VM is down.

With --ping each host is also pinged over ICMP, which usually requires
raw socket privileges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context(), args)
		},
	}

	cmd.Flags().BoolVar(&o.Ping, "ping", false, "also ping each host over ICMP")
	cmd.Flags().IntVar(&o.Concurrency, "concurrency", o.Concurrency, "maximum parallel probes")
	cmd.Flags().DurationVar(&o.Timeout, "timeout", o.Timeout, "per-probe timeout")
	return cmd
}

type checkResult struct {
	vm      config.VM
	tcp     probe.Result
	ping    *ping.Statistics
	pingErr error
}

func (o *CheckOptions) Run(ctx context.Context, names []string) error {
	reg, _, err := loadRegistry()
	if err != nil {
		return err
	}
	vms, err := selectVMs(reg, names)
	if err != nil {
		return err
	}
	if len(vms) == 0 {
		return errors.New("no VMs registered")
	}

	bar := progressbar.Default(int64(len(vms)), "probing")
	results := make([]checkResult, len(vms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)
	for i, vm := range vms {
		g.Go(func() error {
			res := checkResult{vm: vm, tcp: probe.TCP(gctx, vm.Host, vm.Port, o.Timeout)}
			if o.Ping {
				res.ping, res.pingErr = probe.Ping(gctx, vm.Host, 4, o.Timeout)
			}
			results[i] = res
			_ = bar.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	_ = bar.Finish()

	down := 0
	for _, res := range results {
		printCheckResult(res)
		if !res.tcp.Reachable {
			down++
		}
	}
	if down > 0 {
		return fmt.Errorf("%d of %d VMs down", down, len(vms))
	}
	return nil
}

func selectVMs(reg *config.Registry, names []string) ([]config.VM, error) {
	if len(names) == 0 {
		return reg.VMs, nil
	}
	vms := make([]config.VM, 0, len(names))
	for _, name := range names {
		vm, ok := reg.VM(name)
		if !ok {
			return nil, fmt.Errorf("unknown vm %q", name)
		}
		vms = append(vms, *vm)
	}
	return vms, nil
}

func printCheckResult(res checkResult) {
	if res.tcp.Reachable {
		fmt.Printf("UP    %-20s %-22s %.2f ms\n", res.vm.Name, res.vm.Addr(), res.tcp.LatencyMS)
	} else {
		fmt.Printf("DOWN  %-20s %-22s %s\n", res.vm.Name, res.vm.Addr(), res.tcp.Reason)
	}
	if res.ping != nil {
		fmt.Printf("      ping %d/%d received, avg rtt %v\n",
			res.ping.PacketsRecv, res.ping.PacketsSent, res.ping.AvgRtt)
	} else if res.pingErr != nil {
		fmt.Printf("      ping failed: %v\n", res.pingErr)
	}
}

func init() {
	rootCmd.AddCommand(NewCmdCheck())
}
