package backend

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// MonitorOption is a functional option for configuring a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the logger for the monitor.
func WithMonitorLogger(logger observability.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithCheckerRegistry sets where custom checks are looked up.
func WithCheckerRegistry(checks *CheckerRegistry) MonitorOption {
	return func(m *Monitor) {
		m.checkers = checks
	}
}

// WithHealthCheckClient sets the HTTP client used by http checks.
func WithHealthCheckClient(client *http.Client) MonitorOption {
	return func(m *Monitor) {
		m.client = client
	}
}

// Monitor periodically checks one service and every instance of it.
// Check failures only mark targets unhealthy; the loop runs until Stop
// is called or its context is canceled.
type Monitor struct {
	svc      *Service
	check    config.HealthCheck
	checker  Checker
	checkers *CheckerRegistry
	client   *http.Client
	logger   observability.Logger
	interval time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewMonitor creates a stopped monitor for svc.
func NewMonitor(svc *Service, opts ...MonitorOption) *Monitor {
	check := svc.cfg.HealthCheck
	m := &Monitor{
		svc:      svc,
		check:    check,
		logger:   observability.NopLogger(),
		interval: check.EffectiveInterval(),
		timeout:  check.EffectiveTimeout(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.checkers == nil {
		m.checkers = NewCheckerRegistry()
	}

	switch check.EffectiveType() {
	case config.HealthCheckTCP:
		m.checker = &TCPChecker{}
	case config.HealthCheckCustom:
		m.checker = m.checkers.Lookup(check.Checker)
	default:
		m.checker = &HTTPChecker{Client: m.client}
	}
	return m
}

// Start launches the check loop. Calling Start on a running monitor does
// nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})

	go m.run(ctx, m.stopCh, m.stoppedCh)
}

// Stop terminates the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, stoppedCh := m.stopCh, m.stoppedCh
	m.mu.Unlock()

	close(stopCh)
	<-stoppedCh
}

// IsRunning returns true if the check loop is running.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context, stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	m.logger.Debug("check loop running",
		observability.String("service", m.svc.Name()),
		observability.Duration("interval", m.interval),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one iteration: the service check followed by one
// independent check per instance.
func (m *Monitor) CheckOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if m.svc.cfg.BaseURL != "" {
		err := m.runCheck(ctx, m.svc.cfg.BaseURL, "service")
		ok := err == nil
		recordServiceHealth(m.svc.Name(), ok)
		if m.svc.recordCheck(ok, time.Now()) {
			m.logTransition("service health changed", m.svc.cfg.BaseURL, ok, err)
		}
	}

	var wg sync.WaitGroup
	for _, inst := range m.svc.instances {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			err := m.runCheck(ctx, inst.URL(), "instance")
			if inst.recordCheck(err == nil) {
				m.logTransition("instance health changed", inst.URL(), err == nil, err)
			}
		}(inst)
	}
	wg.Wait()
}

// check never panics; a panicking custom check counts as a failure.
func (m *Monitor) runCheck(ctx context.Context, url, kind string) (err error) {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
		recordHealthCheck(m.svc.Name(), kind, err == nil, time.Since(start))
	}()

	path := m.check.EffectivePath()
	if m.check.EffectiveType() == config.HealthCheckCustom {
		path = m.check.Path
	}
	return m.checker.Check(checkCtx, CheckTarget{Service: m.svc.Name(), URL: url, Path: path})
}

func (m *Monitor) logTransition(msg, url string, healthy bool, err error) {
	fields := []observability.Field{
		observability.String("service", m.svc.Name()),
		observability.String("url", url),
		observability.Bool("healthy", healthy),
	}
	if healthy {
		m.logger.Info(msg, fields...)
		return
	}
	if err != nil {
		fields = append(fields, observability.Error(err))
	}
	m.logger.Warn(msg, fields...)
}

// Supervisor runs one Monitor per active service with health checks
// enabled.
type Supervisor struct {
	registry *Registry
	opts     []MonitorOption
	logger   observability.Logger

	mu       sync.Mutex
	ctx      context.Context
	monitors map[string]*Monitor
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger sets the logger of the supervisor and its monitors.
func WithSupervisorLogger(logger observability.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithMonitorOptions appends options passed to every monitor.
func WithMonitorOptions(opts ...MonitorOption) SupervisorOption {
	return func(s *Supervisor) {
		s.opts = append(s.opts, opts...)
	}
}

// NewSupervisor creates a supervisor over registry.
func NewSupervisor(registry *Registry, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		registry: registry,
		logger:   observability.NopLogger(),
		monitors: make(map[string]*Monitor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start records ctx as the parent of every monitor and starts the
// monitors of the current registry content.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.Sync()
}

// Sync reconciles running monitors with the registry. Monitors of
// removed, disabled or changed services are stopped; new ones are
// started. It does nothing before Start.
func (s *Supervisor) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return
	}

	wanted := make(map[string]*Service)
	for _, svc := range s.registry.All() {
		if svc.IsActive() && svc.cfg.HealthCheck.Enabled {
			wanted[svc.Name()] = svc
		}
	}

	for name, mon := range s.monitors {
		if svc, ok := wanted[name]; ok && svc == mon.svc {
			continue
		}
		mon.Stop()
		delete(s.monitors, name)
		s.logger.Info("health monitor stopped", observability.String("service", name))
	}

	for name, svc := range wanted {
		if _, ok := s.monitors[name]; ok {
			continue
		}
		opts := append([]MonitorOption{WithMonitorLogger(s.logger)}, s.opts...)
		mon := NewMonitor(svc, opts...)
		mon.Start(s.ctx)
		s.monitors[name] = mon
		s.logger.Info("health monitor started",
			observability.String("service", name),
			observability.String("type", svc.cfg.HealthCheck.EffectiveType()),
		)
	}
}

// Stop stops every monitor.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, mon := range s.monitors {
		mon.Stop()
		delete(s.monitors, name)
	}
	s.ctx = nil
}

// Monitored returns the number of running monitors.
func (s *Supervisor) Monitored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.monitors)
}
