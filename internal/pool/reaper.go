package pool

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// runReaper ticks at ReaperInterval, paced by a rate.Limiter rather than a
// bare time.Ticker so it's trivially cancellable via ctx. The first sweep
// runs immediately, the rest one interval apart.
func (p *Pool) runReaper(ctx context.Context) {
	defer close(p.reaperDone)

	limiter := rate.NewLimiter(rate.Every(p.cfg.ReaperInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		p.sweep()
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()

	if p.destroyed {
		p.mu.Unlock()
		return
	}

	cutoff := time.Now().Add(-p.cfg.KeepAliveTimeout)
	for host, list := range p.idle {
		kept := list[:0]
		for _, c := range list {
			if c.LastUsedAt.Before(cutoff) {
				p.logger.Debug("reaping idle connection",
					zap.String("host", host), zap.String("id", c.ID))
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(p.idle, host)
		} else {
			p.idle[host] = kept
		}
	}

	sink := p.diag
	occupancy := p.occupancyByHostLocked()
	p.mu.Unlock()

	if sink != nil {
		for host, o := range occupancy {
			sink.RecordPoolOccupancy(host, o.inUse, o.idle, o.waiters)
		}
	}
}

type hostOccupancy struct {
	inUse, idle, waiters int
}

// occupancyByHostLocked must be called with p.mu held.
func (p *Pool) occupancyByHostLocked() map[string]hostOccupancy {
	hosts := map[string]hostOccupancy{}
	for host, n := range p.activeByHost {
		o := hosts[host]
		o.inUse = n
		hosts[host] = o
	}
	for host, list := range p.idle {
		o := hosts[host]
		o.idle = len(list)
		hosts[host] = o
	}
	for host, list := range p.waiters {
		o := hosts[host]
		o.waiters = len(list)
		hosts[host] = o
	}
	return hosts
}
