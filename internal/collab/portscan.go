package collab

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/recondeck/recondeck/internal/record"
)

// commonPorts are the ports probed by default, with their usual services.
var commonPorts = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	80:    "http",
	110:   "pop3",
	143:   "imap",
	443:   "https",
	465:   "smtps",
	587:   "submission",
	993:   "imaps",
	995:   "pop3s",
	3306:  "mysql",
	3389:  "rdp",
	5432:  "postgresql",
	6379:  "redis",
	8080:  "http-alt",
	8443:  "https-alt",
	27017: "mongodb",
}

// TCPPortScanner performs TCP connect scans over a bounded worker pool.
type TCPPortScanner struct {
	timeout     time.Duration
	concurrency int
	ports       []int
}

// PortScanOption configures a TCPPortScanner.
type PortScanOption func(*TCPPortScanner)

// WithPorts overrides the default port list.
func WithPorts(ports []int) PortScanOption {
	return func(s *TCPPortScanner) {
		if len(ports) > 0 {
			s.ports = ports
		}
	}
}

// WithScanConcurrency bounds the number of concurrent dials.
func WithScanConcurrency(n int) PortScanOption {
	return func(s *TCPPortScanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewTCPPortScanner builds a scanner over the common port set.
func NewTCPPortScanner(timeout time.Duration, opts ...PortScanOption) *TCPPortScanner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	s := &TCPPortScanner{
		timeout:     timeout,
		concurrency: 10,
	}
	for p := range commonPorts {
		s.ports = append(s.ports, p)
	}
	sort.Ints(s.ports)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan connect-probes every configured port and reports each port's state.
// A refused or timed-out dial marks the port closed; only a cancelled
// context fails the scan.
func (s *TCPPortScanner) Scan(ctx context.Context, host string) (*record.PortScanResult, error) {
	results := make([]record.PortStatus, len(s.ports))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	dialer := &net.Dialer{Timeout: s.timeout}
	for i, port := range s.ports {
		wg.Add(1)
		go func(i, port int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			status := record.PortStatus{Port: port, Service: commonPorts[port]}
			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err == nil {
				status.Open = true
				conn.Close()
			}
			results[i] = status
		}(i, port)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &record.PortScanResult{
		Host:      host,
		Ports:     results,
		ScannedAt: time.Now().UTC(),
	}, nil
}
