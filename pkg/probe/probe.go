// Package probe answers reachability questions about registered VMs.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"syscall"
	"time"
)

// DefaultTimeout bounds one TCP probe.
const DefaultTimeout = 5 * time.Second

// Result reports one reachability check.
type Result struct {
	Reachable bool
	LatencyMS float64 // measured dial latency, set when reachable
	Reason    string  // failure detail, set when not reachable
}

// TCP opens one connection to host:port and reports whether it succeeded
// and how long the dial took. Failure reasons distinguish DNS resolution
// failures, refused connections and timeouts rather than collapsing them.
func TCP(ctx context.Context, host string, port int, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return Result{Reason: classify(err, timeout)}
	}
	latency := time.Since(start)
	conn.Close()

	return Result{Reachable: true, LatencyMS: roundMS(latency)}
}

func classify(err error, timeout time.Duration) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("DNS resolution failed: %v", dnsErr)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "Connection refused"
	}
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("Connection timed out after %gs", timeout.Seconds())
	}
	return err.Error()
}

func roundMS(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000*100) / 100
}
