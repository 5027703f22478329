// Package netcheck reports network reachability: a one-shot probe and a
// subscribable stream of connectivity transitions.
package netcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jaktapp/fieldauth/internal/logger"
)

// Status is the result of a reachability probe.
type Status struct {
	Connected         bool
	InternetReachable bool
}

// Checker is the reachability signal consumed by the session machine.
type Checker interface {
	// CheckOnce probes connectivity a single time.
	CheckOnce(ctx context.Context) Status
	// Subscribe delivers a Status on every connectivity transition until
	// the returned unsubscribe function is called. The current status is
	// delivered immediately.
	Subscribe(fn func(Status)) (unsubscribe func())
}

// Probe is a Checker backed by an HTTP HEAD request against a well-known
// endpoint, polled at a fixed interval for subscribers.
type Probe struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu      sync.Mutex
	nextID  int
	subs    map[int]func(Status)
	last    *Status
	polling bool
	stop    chan struct{}
}

var _ Checker = (*Probe)(nil)

// NewProbe creates a reachability probe against url, polling at interval for
// subscription callbacks.
func NewProbe(url string, interval time.Duration) *Probe {
	return &Probe{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 3 * time.Second},
		subs:     make(map[int]func(Status)),
	}
}

func (p *Probe) CheckOnce(ctx context.Context) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return Status{}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Status{}
	}
	_ = resp.Body.Close()
	return Status{Connected: true, InternetReachable: true}
}

func (p *Probe) Subscribe(fn func(Status)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	if !p.polling {
		p.polling = true
		p.stop = make(chan struct{})
		go p.poll(p.stop)
	}
	last := p.last
	p.mu.Unlock()

	if last != nil {
		fn(*last)
	} else {
		fn(p.publish(p.CheckOnce(context.Background())))
	}

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
		if len(p.subs) == 0 && p.polling {
			close(p.stop)
			p.polling = false
		}
	}
}

func (p *Probe) poll(stop chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			status := p.CheckOnce(context.Background())
			p.mu.Lock()
			changed := p.last == nil || *p.last != status
			p.last = &status
			var fns []func(Status)
			if changed {
				for _, fn := range p.subs {
					fns = append(fns, fn)
				}
			}
			p.mu.Unlock()
			if changed {
				logger.Debug("connectivity changed", "connected", status.Connected)
				for _, fn := range fns {
					fn(status)
				}
			}
		}
	}
}

func (p *Probe) publish(status Status) Status {
	p.mu.Lock()
	p.last = &status
	p.mu.Unlock()
	return status
}
