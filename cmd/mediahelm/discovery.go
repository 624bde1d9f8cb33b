package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// ============================================================================
// Service Discovery
// ============================================================================
// Bonjour browse for hosts advertising the control service type. A scan is
// time-bounded, single-flight (a new scan cancels the previous browse before
// starting), and followed by a cool-down window so views reappearing in
// quick succession don't trigger needless rescans.
// ============================================================================

// ScanPhase is the scanner lifecycle state.
type ScanPhase int

const (
	ScanSetup ScanPhase = iota
	ScanWaiting
	ScanBrowsing
	ScanCancelled
	ScanFailed
)

func (p ScanPhase) String() string {
	switch p {
	case ScanSetup:
		return "setup"
	case ScanWaiting:
		return "waiting"
	case ScanBrowsing:
		return "browsing"
	case ScanCancelled:
		return "cancelled"
	case ScanFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DiscoveredService is one candidate host found during a scan. Its lifetime
// is one scan session; results are cleared when the next scan starts.
type DiscoveredService struct {
	Name   string
	Type   string
	Domain string
	Host   string
	Addr   net.IP
	Port   int
}

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
type lookupFunc func(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

func zeroconfLookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}
	return resolver.Lookup(ctx, instance, service, domain, entries)
}

// Discoverer browses the local network for control-capable hosts.
type Discoverer struct {
	logger        *slog.Logger
	serviceType   string
	domain        string
	scanWindow    time.Duration
	resolveWindow time.Duration
	coolDown      time.Duration

	browse browseFunc
	lookup lookupFunc

	mu            sync.Mutex
	phase         ScanPhase
	errMsg        string
	results       []DiscoveredService
	cancel        context.CancelFunc
	done          chan struct{}
	lastCompleted time.Time
}

// NewDiscoverer builds a scanner for the given service type ("_ssh._tcp" by
// default) and domain ("local." by default).
func NewDiscoverer(serviceType, domain string, scanWindow, resolveWindow, coolDown time.Duration, logger *slog.Logger) *Discoverer {
	if serviceType == "" {
		serviceType = "_ssh._tcp"
	}
	if domain == "" {
		domain = "local."
	}
	if scanWindow <= 0 {
		scanWindow = 6 * time.Second
	}
	if resolveWindow <= 0 {
		resolveWindow = 5 * time.Second
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &Discoverer{
		logger:        logger,
		serviceType:   serviceType,
		domain:        domain,
		scanWindow:    scanWindow,
		resolveWindow: resolveWindow,
		coolDown:      coolDown,
		browse:        zeroconfBrowse,
		lookup:        zeroconfLookup,
		phase:         ScanSetup,
	}
}

// StartScan clears prior results and begins a time-bounded browse. Any
// in-flight scan is cancelled and fully wound down first, so no result of
// the old browse can land in the new result set.
func (d *Discoverer) StartScan() {
	d.mu.Lock()
	prevCancel, prevDone := d.cancel, d.done
	d.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.scanWindow)
	done := make(chan struct{})

	d.mu.Lock()
	d.cancel = cancel
	d.done = done
	d.results = nil
	d.errMsg = ""
	d.phase = ScanSetup
	d.mu.Unlock()

	d.logger.Info("discovery scan starting", "service", d.serviceType, "window", d.scanWindow)
	go d.run(ctx, cancel, done)
}

// StopScan cancels the current scan, if any, and returns once its resources
// are released.
func (d *Discoverer) StopScan() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// ShouldAutoScan reports whether enough time has passed since the last
// completed scan for a view appearance to warrant another one.
func (d *Discoverer) ShouldAutoScan() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastCompleted.IsZero() {
		return true
	}
	return time.Since(d.lastCompleted) >= d.coolDown
}

// Results returns a copy of the current scan session's findings.
func (d *Discoverer) Results() []DiscoveredService {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DiscoveredService(nil), d.results...)
}

// Phase returns the scanner lifecycle state.
func (d *Discoverer) Phase() ScanPhase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Err returns the user-visible error string from a failed scan, if any.
func (d *Discoverer) Err() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errMsg
}

func (d *Discoverer) setPhase(p ScanPhase, errMsg string) {
	d.mu.Lock()
	d.phase = p
	d.errMsg = errMsg
	d.mu.Unlock()
}

func (d *Discoverer) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	d.setPhase(ScanWaiting, "")

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := d.browse(ctx, d.serviceType, d.domain, entries); err != nil {
		d.logger.Error("discovery browse failed", "error", err)
		d.setPhase(ScanFailed, fmt.Sprintf("network browse failed: %v", err))
		return
	}
	d.setPhase(ScanBrowsing, "")

	for {
		select {
		case <-ctx.Done():
			d.finish()
			return
		case entry, ok := <-entries:
			if !ok {
				d.finish()
				return
			}
			d.addEntry(ctx, entry)
		}
	}
}

// addEntry records one discovered candidate, resolving its address within
// its own bounded window if the browse answer lacked one. The window
// derives from the scan context, so stopping the scan also cancels any
// in-flight resolution.
func (d *Discoverer) addEntry(ctx context.Context, e *zeroconf.ServiceEntry) {
	addr := firstAddr(e)
	if addr == nil && d.lookup != nil {
		lctx, lcancel := context.WithTimeout(ctx, d.resolveWindow)
		found := make(chan *zeroconf.ServiceEntry, 4)
		if err := d.lookup(lctx, e.Instance, e.Service, e.Domain, found); err != nil {
			d.logger.Warn("service resolution failed", "name", redact(e.Instance), "error", err)
		} else {
			for r := range found {
				if a := firstAddr(r); a != nil {
					addr = a
					break
				}
			}
		}
		lcancel()
	}

	svc := DiscoveredService{
		Name:   e.Instance,
		Type:   e.Service,
		Domain: e.Domain,
		Host:   e.HostName,
		Addr:   addr,
		Port:   e.Port,
	}

	d.mu.Lock()
	d.results = append(d.results, svc)
	n := len(d.results)
	d.mu.Unlock()

	d.logger.Info("service discovered", "name", redact(e.Instance), "results", n)
}

// finish marks normal scan completion: explicit stop or window elapsed.
func (d *Discoverer) finish() {
	d.mu.Lock()
	if d.phase != ScanFailed {
		d.phase = ScanCancelled
	}
	d.lastCompleted = time.Now()
	n := len(d.results)
	d.mu.Unlock()

	d.logger.Info("discovery scan finished", "results", n)
}

func firstAddr(e *zeroconf.ServiceEntry) net.IP {
	if len(e.AddrIPv4) > 0 {
		return e.AddrIPv4[0]
	}
	if len(e.AddrIPv6) > 0 {
		return e.AddrIPv6[0]
	}
	return nil
}
