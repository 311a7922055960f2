package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CheckTarget describes what a checker tests: the service base URL or one
// instance URL.
type CheckTarget struct {
	Service string
	URL     string
	Path    string
}

// hostPort returns host:port of the target URL, defaulting the port from
// the scheme.
func (t CheckTarget) hostPort() (string, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", t.URL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Checker checks a target. A nil error means healthy.
type Checker interface {
	Check(ctx context.Context, target CheckTarget) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context, target CheckTarget) error

// Check implements Checker.
func (f CheckFunc) Check(ctx context.Context, target CheckTarget) error {
	return f(ctx, target)
}

// ErrUnhealthyStatus is returned by HTTP checks for non-2xx responses.
var ErrUnhealthyStatus = errors.New("unhealthy status")

// HTTPChecker sends GET to the health path and requires a 2xx response.
type HTTPChecker struct {
	Client *http.Client
}

// Check implements Checker.
func (p *HTTPChecker) Check(ctx context.Context, target CheckTarget) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL+target.Path, http.NoBody)
	if err != nil {
		return err
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %d", ErrUnhealthyStatus, resp.StatusCode)
	}
	return nil
}

// TCPChecker succeeds when a connection to host:port can be opened.
type TCPChecker struct {
	Dialer net.Dialer
}

// Check implements Checker.
func (p *TCPChecker) Check(ctx context.Context, target CheckTarget) error {
	addr, err := target.hostPort()
	if err != nil {
		return err
	}
	conn, err := p.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// GRPCChecker calls the standard grpc.health.v1 Check method. The
// configured health path, without its leading slash, names the checked
// gRPC service; an empty path checks the whole server.
type GRPCChecker struct{}

// Check implements Checker.
func (GRPCChecker) Check(ctx context.Context, target CheckTarget) error {
	addr, err := target.hostPort()
	if err != nil {
		return err
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	service := strings.TrimPrefix(target.Path, "/")
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrUnhealthyStatus, resp.GetStatus())
	}
	return nil
}

// CheckerRegistry resolves custom checks by name. An unnamed custom check
// always reports healthy.
type CheckerRegistry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewCheckerRegistry creates a registry with the built-in "grpc" check.
func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{
		checkers: map[string]Checker{"grpc": GRPCChecker{}},
	}
}

// Register adds or replaces a named check.
func (r *CheckerRegistry) Register(name string, p Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = p
}

// Lookup returns the named check. Unknown or empty names yield a check
// that always succeeds.
func (r *CheckerRegistry) Lookup(name string) Checker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.checkers[name]; ok {
		return p
	}
	return CheckFunc(func(context.Context, CheckTarget) error { return nil })
}
