// Package status tracks connectivity and derives the display sync status,
// triggering drains on reconnect and on local mutations.
package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const transitionBuffer = 4

// Connectivity holds the online flag and fans out transitions.
type Connectivity struct {
	mu          sync.Mutex
	online      bool
	subscribers map[int]chan bool
	nextID      int
}

// NewConnectivity constructs a Connectivity with the given initial state.
func NewConnectivity(online bool) *Connectivity {
	return &Connectivity{online: online, subscribers: make(map[int]chan bool)}
}

// Online reports the current state.
func (c *Connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records the state and reports whether it changed. Subscribers
// only hear about changes.
func (c *Connectivity) SetOnline(online bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online == online {
		return false
	}
	c.online = online
	for _, stream := range c.subscribers {
		select {
		case stream <- online:
		default:
		}
	}
	return true
}

// Transitions streams state changes until ctx ends or cleanup runs.
func (c *Connectivity) Transitions(ctx context.Context) (<-chan bool, func()) {
	stream := make(chan bool, transitionBuffer)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subscribers[id] = stream
	c.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
			close(stream)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// ProberConfig describes a Prober.
type ProberConfig struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
	Logger  *zap.Logger
}

// Prober checks reachability of the remote authority with HEAD requests.
type Prober struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewProber constructs a Prober.
func NewProber(cfg ProberConfig) *Prober {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{url: cfg.URL, client: client, logger: logger}
}

// Probe reports whether the remote answered at all. Any HTTP response,
// including an error status, counts as reachable.
func (p *Prober) Probe(ctx context.Context) bool {
	request, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Warn("connectivity probe misconfigured", zap.String("url", p.url), zap.Error(err))
		return false
	}
	response, err := p.client.Do(request)
	if err != nil {
		p.logger.Debug("connectivity probe failed", zap.String("url", p.url), zap.Error(err))
		return false
	}
	_ = response.Body.Close()
	return true
}

// Watch probes every interval and feeds the result into connectivity until
// ctx ends.
func (p *Prober) Watch(ctx context.Context, interval time.Duration, connectivity *Connectivity) {
	connectivity.SetOnline(p.Probe(ctx))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reachable := p.Probe(ctx)
			if ctx.Err() != nil {
				return
			}
			if connectivity.SetOnline(reachable) {
				p.logger.Info("connectivity changed", zap.Bool("online", connectivity.Online()))
			}
		}
	}
}
