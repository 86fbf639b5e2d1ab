// Package config defines the gateway's configuration struct tree (spec
// section 6). There is no file or flag parsing here — that is an explicit
// non-goal (spec section 1); a caller builds a Config value directly
// (decoded elsewhere, if at all) and passes it to gateway.New. Defaults are
// applied in-code, the way the teacher's catrate.Limiter and
// longpoll.ChannelConfig apply zero-value defaults rather than relying on a
// config-file loader.
package config

import (
	"errors"
	"time"

	"github.com/honhatphi/shuttlegw/gwlog"
	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
)

// DeviceMonitorConfig mirrors spec section 6 "device_monitor.*".
type DeviceMonitorConfig struct {
	MaxConcurrentOperations int
}

// BarcodeHandlerConfig mirrors spec section 6 "barcode_handler.*".
type BarcodeHandlerConfig struct {
	ValidationTimeoutMinutes int
	MaxBarcodeLength         int
}

// TaskDispatcherConfig mirrors spec section 6 "task_dispatcher.*".
type TaskDispatcherConfig struct {
	MaxTasksPerCycle   int
	MaxQueueSize       int
	AutoPauseWhenEmpty bool
}

// TaskTimeoutConfig mirrors spec section 6 "task_timeout.*".
type TaskTimeoutConfig struct {
	InboundTimeoutMinutes  int
	OutboundTimeoutMinutes int
	TransferTimeoutMinutes int
}

// ResetSystemConfig controls the address-prefix allow-list reset_system
// requires (spec section 4.C; supplemented per SPEC_FULL.md since the spec
// names "DB66" only as an example).
type ResetSystemConfig struct {
	SafetyPrefixes []string
}

// Config is the gateway's full static configuration tree, validated at
// construction.
type Config struct {
	Mode           string // "production" or anything else ("test")
	Devices        []model.DeviceProfile
	DeviceMonitor  DeviceMonitorConfig
	BarcodeHandler BarcodeHandlerConfig
	TaskDispatcher TaskDispatcherConfig
	TaskTimeout    TaskTimeoutConfig
	Plc            plc.Config
	ResetSystem    ResetSystemConfig
	Logger         gwlog.Config
}

// ApplyDefaults fills zero-valued fields with their spec-mandated defaults.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "test"
	}
	if c.DeviceMonitor.MaxConcurrentOperations == 0 {
		c.DeviceMonitor.MaxConcurrentOperations = 10
	}
	if c.BarcodeHandler.ValidationTimeoutMinutes == 0 {
		c.BarcodeHandler.ValidationTimeoutMinutes = 2
	}
	if c.BarcodeHandler.MaxBarcodeLength == 0 {
		c.BarcodeHandler.MaxBarcodeLength = 10
	}
	if c.TaskDispatcher.MaxTasksPerCycle == 0 {
		c.TaskDispatcher.MaxTasksPerCycle = 10
	}
	if c.TaskDispatcher.MaxQueueSize == 0 {
		c.TaskDispatcher.MaxQueueSize = 50
	}
	// AutoPauseWhenEmpty is left as given: Go's zero value for bool is false,
	// and ApplyDefaults cannot tell an unset false from an explicit one, so a
	// Config literal gets true only via NewDefault() or by setting it true
	// itself. NewDefault below is the recommended construction path.
	if c.TaskTimeout.InboundTimeoutMinutes == 0 {
		c.TaskTimeout.InboundTimeoutMinutes = 15
	}
	if c.TaskTimeout.OutboundTimeoutMinutes == 0 {
		c.TaskTimeout.OutboundTimeoutMinutes = 15
	}
	if c.TaskTimeout.TransferTimeoutMinutes == 0 {
		c.TaskTimeout.TransferTimeoutMinutes = 15
	}
	if len(c.ResetSystem.SafetyPrefixes) == 0 {
		c.ResetSystem.SafetyPrefixes = []string{"DB66"}
	}
	c.Plc.ApplyDefaults()
	c.Logger.ApplyDefaults()
}

// NewDefault returns a Config with every spec-mandated default applied,
// including AutoPauseWhenEmpty=true.
func NewDefault() Config {
	c := Config{TaskDispatcher: TaskDispatcherConfig{AutoPauseWhenEmpty: true}}
	c.ApplyDefaults()
	return c
}

// InboundTimeout, OutboundTimeout, TransferTimeout convert the configured
// per-command-type minute values to time.Duration.
func (c Config) InboundTimeout() time.Duration {
	return time.Duration(c.TaskTimeout.InboundTimeoutMinutes) * time.Minute
}

func (c Config) OutboundTimeout() time.Duration {
	return time.Duration(c.TaskTimeout.OutboundTimeoutMinutes) * time.Minute
}

func (c Config) TransferTimeout() time.Duration {
	return time.Duration(c.TaskTimeout.TransferTimeoutMinutes) * time.Minute
}

func (c Config) ValidationTimeout() time.Duration {
	return time.Duration(c.BarcodeHandler.ValidationTimeoutMinutes) * time.Minute
}

// Validate checks the invariants spec section 6 requires at construction:
// device IDs unique, device list non-empty.
func (c Config) Validate() error {
	if len(c.Devices) == 0 {
		return errors.New("config: devices must be non-empty")
	}
	seen := make(map[string]struct{}, len(c.Devices))
	for _, d := range c.Devices {
		if d.ID == "" {
			return errors.New("config: device id must not be empty")
		}
		if _, dup := seen[d.ID]; dup {
			return errors.New("config: duplicate device id " + d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

// IsTestMode reports whether the gateway is running in test mode (spec
// section 6: "any non-'production' => test").
func (c Config) IsTestMode() bool {
	return c.Mode != "production"
}
