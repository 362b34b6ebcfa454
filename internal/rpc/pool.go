package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/sparechange/internal/metrics"
	"golang.org/x/time/rate"
)

// ErrNoEndpoints is returned when a pool is built without endpoints
var ErrNoEndpoints = errors.New("rpc pool has no endpoints")

const defaultBurst = 5

// Pool rotates requests over a set of upstream endpoints, each with its own rate limiter
type Pool struct {
	endpoints []*Endpoint
	current   int
	mutex     sync.Mutex
	logger    zerolog.Logger
}

// Endpoint is a single upstream base URL with health and cooldown state
type Endpoint struct {
	URL           string
	limiter       *rate.Limiter
	healthy       bool
	cooldownUntil time.Time
	mutex         sync.RWMutex
}

// EndpointStats is a point-in-time view of an endpoint
type EndpointStats struct {
	URL           string    `json:"url"`
	Healthy       bool      `json:"healthy"`
	InCooldown    bool      `json:"in_cooldown"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// NewPool creates a pool over urls, limiting each endpoint to perSecond requests
func NewPool(urls []string, perSecond float64, logger zerolog.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}

	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = &Endpoint{
			URL:     url,
			limiter: rate.NewLimiter(rate.Limit(perSecond), defaultBurst),
			healthy: true,
		}
		metrics.SetEndpointHealth(url, true)
	}

	return &Pool{
		endpoints: endpoints,
		current:   rand.Intn(len(endpoints)),
		logger:    logger.With().Str("component", "rpc_pool").Logger(),
	}, nil
}

// Next returns the next usable endpoint URL using round-robin. Endpoints that are
// unhealthy, cooling down or rate limited are skipped; when none is immediately
// available it waits on the limiter of the first candidate.
func (p *Pool) Next(ctx context.Context) (string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	startIndex := p.current
	now := time.Now()

	for attempts := 0; attempts < len(p.endpoints); attempts++ {
		endpoint := p.endpoints[p.current]
		p.current = (p.current + 1) % len(p.endpoints)

		endpoint.mutex.RLock()
		inCooldown := now.Before(endpoint.cooldownUntil)
		healthy := endpoint.healthy
		endpoint.mutex.RUnlock()

		if inCooldown || !healthy {
			p.logger.Debug().
				Str("endpoint", endpoint.URL).
				Bool("healthy", healthy).
				Bool("in_cooldown", inCooldown).
				Msg("Skipping endpoint")
			continue
		}

		if endpoint.limiter.Allow() {
			return endpoint.URL, nil
		}

		p.logger.Debug().Str("endpoint", endpoint.URL).Msg("Endpoint rate limited, trying next")
	}

	endpoint := p.endpoints[startIndex]
	p.logger.Debug().
		Str("endpoint", endpoint.URL).
		Msg("All endpoints busy, waiting for availability")

	reservation := endpoint.limiter.Reserve()
	if !reservation.OK() {
		return "", fmt.Errorf("rate limiter failed to make reservation")
	}

	if delay := reservation.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			reservation.Cancel()
			return "", ctx.Err()
		}
	}

	return endpoint.URL, nil
}

func (p *Pool) find(url string) *Endpoint {
	for _, endpoint := range p.endpoints {
		if endpoint.URL == url {
			return endpoint
		}
	}
	return nil
}

// MarkUnhealthy marks an endpoint as unhealthy
func (p *Pool) MarkUnhealthy(url string) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}

	endpoint.mutex.Lock()
	wasHealthy := endpoint.healthy
	endpoint.healthy = false
	endpoint.mutex.Unlock()

	metrics.SetEndpointHealth(url, false)
	if wasHealthy {
		p.logger.Warn().Str("endpoint", url).Msg("Marked endpoint as unhealthy")
	}
}

// MarkHealthy marks an endpoint as healthy and clears its cooldown
func (p *Pool) MarkHealthy(url string) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}

	endpoint.mutex.Lock()
	wasHealthy := endpoint.healthy
	endpoint.healthy = true
	endpoint.cooldownUntil = time.Time{}
	endpoint.mutex.Unlock()

	metrics.SetEndpointHealth(url, true)
	if !wasHealthy {
		p.logger.Info().Str("endpoint", url).Msg("Marked endpoint as healthy")
	}
}

// SetCooldown puts an endpoint in cooldown for the specified duration
func (p *Pool) SetCooldown(url string, duration time.Duration) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}

	endpoint.mutex.Lock()
	endpoint.cooldownUntil = time.Now().Add(duration)
	endpoint.mutex.Unlock()

	p.logger.Warn().
		Str("endpoint", url).
		Dur("duration", duration).
		Msg("Set endpoint cooldown")
}

// HealthyCount returns the number of endpoints that are healthy and not cooling down
func (p *Pool) HealthyCount() int {
	count := 0
	now := time.Now()
	for _, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		if endpoint.healthy && !now.Before(endpoint.cooldownUntil) {
			count++
		}
		endpoint.mutex.RUnlock()
	}
	return count
}

// Stats returns the state of every endpoint
func (p *Pool) Stats() []EndpointStats {
	now := time.Now()
	stats := make([]EndpointStats, len(p.endpoints))
	for i, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		stats[i] = EndpointStats{
			URL:           endpoint.URL,
			Healthy:       endpoint.healthy,
			InCooldown:    now.Before(endpoint.cooldownUntil),
			CooldownUntil: endpoint.cooldownUntil,
		}
		endpoint.mutex.RUnlock()
	}
	return stats
}
