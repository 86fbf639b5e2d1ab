// Package pool implements ConnectionPool (spec section 4.B): one connector
// per device, created lazily and single-flight (concurrent requests for the
// same device id yield the same connector instance), with safe removal.
//
// The single-flight creation is grounded on golang.org/x/sync/singleflight,
// generalizing the map[name]*ManagedPLC-behind-a-mutex idiom used by PLC
// manager implementations in this domain (lazy connect-on-demand, one entry
// per device) to a dedicated singleflight.Group instead of a home-rolled
// "reconnecting" guard map.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
)

// Factory creates a new Connector for a device profile. It is called at most
// once per device id concurrently, courtesy of the pool's singleflight
// group.
type Factory func(ctx context.Context, profile model.DeviceProfile) (plc.Connector, error)

// Pool is a ConnectionPool keyed by device id.
type Pool struct {
	factory Factory

	mu         sync.RWMutex
	connectors map[string]plc.Connector

	group singleflight.Group
}

// New constructs a Pool using factory to create connectors on demand.
func New(factory Factory) *Pool {
	return &Pool{
		factory:    factory,
		connectors: make(map[string]plc.Connector),
	}
}

// Get returns the connector for profile.ID, creating it if necessary.
// Concurrent calls for the same id share one factory invocation and receive
// the same *plc.Connector. If creation fails, the slot is left empty so a
// later call may retry (spec section 4.B).
func (p *Pool) Get(ctx context.Context, profile model.DeviceProfile) (plc.Connector, error) {
	p.mu.RLock()
	if c, ok := p.connectors[profile.ID]; ok {
		p.mu.RUnlock()
		return c, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.group.Do(profile.ID, func() (any, error) {
		p.mu.RLock()
		if c, ok := p.connectors[profile.ID]; ok {
			p.mu.RUnlock()
			return c, nil
		}
		p.mu.RUnlock()

		c, err := p.factory(ctx, profile)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.connectors[profile.ID] = c
		p.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(plc.Connector), nil
}

// Peek returns the connector for deviceID if one has already been created,
// without triggering creation.
func (p *Pool) Peek(deviceID string) (plc.Connector, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.connectors[deviceID]
	return c, ok
}

// Remove releases and forgets the connector for deviceID, if one exists.
func (p *Pool) Remove(deviceID string) {
	p.mu.Lock()
	c, ok := p.connectors[deviceID]
	if ok {
		delete(p.connectors, deviceID)
	}
	p.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

// Dispose releases every connector currently held by the pool.
func (p *Pool) Dispose() {
	p.mu.Lock()
	connectors := make([]plc.Connector, 0, len(p.connectors))
	for _, c := range p.connectors {
		connectors = append(connectors, c)
	}
	p.connectors = make(map[string]plc.Connector)
	p.mu.Unlock()

	for _, c := range connectors {
		_ = c.Close()
	}
}
