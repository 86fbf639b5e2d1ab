// Package plcfake provides an in-memory plc.Connector, used by tests to
// drive command strategies and the dispatcher deterministically without a
// real PLC. It mirrors the value-map-behind-a-mutex shape of a typical PLC
// manager (e.g. a tag cache guarded by sync.RWMutex) but serializes all I/O
// per call, per the spec's "single connector serializes I/O" requirement.
package plcfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/honhatphi/shuttlegw/plc"
)

// Connector is an in-memory plc.Connector backed by a map of addresses to
// values. It is safe for concurrent use; all calls take the same mutex,
// which is how it enforces per-device I/O serialization.
type Connector struct {
	mu        sync.Mutex
	values    map[string]any
	connected bool

	// ConnectErr, if set, is returned by every connect attempt.
	ConnectErr error
}

// New constructs a Connector, already connected, with an empty value map.
func New() *Connector {
	return &Connector{values: make(map[string]any), connected: true}
}

// Set writes a value directly into the fake's backing store, bypassing the
// Connector interface — used by tests to simulate the device side of the
// protocol (e.g. flipping alarm=true).
func (c *Connector) Set(address string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[address] = value
}

// Get reads a value directly, returning the zero value if unset.
func (c *Connector) Get(address string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[address]
}

func (c *Connector) read(address string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, fmt.Errorf("plcfake: not connected")
	}
	return c.values[address], nil
}

func (c *Connector) write(address string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("plcfake: not connected")
	}
	c.values[address] = value
	return nil
}

func (c *Connector) ReadBool(_ context.Context, address string) (bool, error) {
	v, err := c.read(address)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (c *Connector) ReadInt16(_ context.Context, address string) (int16, error) {
	v, err := c.read(address)
	if err != nil {
		return 0, err
	}
	n, _ := v.(int16)
	return n, nil
}

func (c *Connector) ReadInt32(_ context.Context, address string) (int32, error) {
	v, err := c.read(address)
	if err != nil {
		return 0, err
	}
	n, _ := v.(int32)
	return n, nil
}

func (c *Connector) ReadString(_ context.Context, address string) (string, error) {
	v, err := c.read(address)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (c *Connector) WriteBool(_ context.Context, address string, value bool) error {
	return c.write(address, value)
}

func (c *Connector) WriteInt16(_ context.Context, address string, value int16) error {
	return c.write(address, value)
}

func (c *Connector) WriteInt32(_ context.Context, address string, value int32) error {
	return c.write(address, value)
}

func (c *Connector) WriteString(_ context.Context, address string, value string) error {
	return c.write(address, value)
}

func (c *Connector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Connector) EnsureConnected(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected = true
	return nil
}

func (c *Connector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *Connector) Close() error {
	c.Disconnect()
	return nil
}

var _ plc.Connector = (*Connector)(nil)
