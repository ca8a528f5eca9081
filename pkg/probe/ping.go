package probe

import (
	"context"
	"fmt"
	"time"

	ping "github.com/prometheus-community/pro-bing"
)

// Ping sends count ICMP echoes to host and returns the aggregate statistics.
// Raw ICMP sockets need root on Linux, so this backs the operator CLI only;
// the tool surface probes over TCP.
func Ping(ctx context.Context, host string, count int, timeout time.Duration) (*ping.Statistics, error) {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return nil, fmt.Errorf("create pinger: %w", err)
	}
	pinger.SetPrivileged(true)
	pinger.Count = count
	pinger.Interval = time.Second
	pinger.Timeout = timeout

	if err := pinger.RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", host, err)
	}
	return pinger.Statistics(), nil
}
