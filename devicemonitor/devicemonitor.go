// Package devicemonitor implements DeviceMonitor (spec section 4.C):
// per-device status tracking, readiness/location reads, and status-change
// event emission.
package devicemonitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/honhatphi/shuttlegw/events"
	"github.com/honhatphi/shuttlegw/gwerrors"
	"github.com/honhatphi/shuttlegw/gwlog"
	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
	"github.com/honhatphi/shuttlegw/plc/pool"
)

// now is a package variable so a test can substitute a fixed clock.
var now = time.Now

// Config controls DeviceMonitor's fan-out concurrency.
type Config struct {
	MaxConcurrentOperations int
}

// ApplyDefaults fills zero-valued fields with their spec-mandated defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxConcurrentOperations == 0 {
		c.MaxConcurrentOperations = 10
	}
}

// Monitor tracks device status and location, backed by a connector pool.
type Monitor struct {
	cfg      Config
	pool     *pool.Pool
	hub      *events.Hub
	log      gwlog.Logger
	profiles map[string]model.DeviceProfile

	mu     sync.Mutex
	status map[string]model.DeviceStatus
}

// New constructs a Monitor over the given device profiles.
func New(cfg Config, profiles []model.DeviceProfile, p *pool.Pool, hub *events.Hub, log gwlog.Logger) *Monitor {
	cfg.ApplyDefaults()
	byID := make(map[string]model.DeviceProfile, len(profiles))
	for _, pr := range profiles {
		byID[pr.ID] = pr
	}
	return &Monitor{
		cfg:      cfg,
		pool:     p,
		hub:      hub,
		log:      log,
		profiles: byID,
		status:   make(map[string]model.DeviceStatus),
	}
}

// StartMonitoring reads device_ready for deviceID and sets its status
// accordingly: Idle if true, Busy if false, Offline (with the surfaced
// error) on any read failure.
func (m *Monitor) StartMonitoring(ctx context.Context, deviceID string) error {
	profile, conn, err := m.resolve(ctx, deviceID)
	if err != nil {
		m.UpdateDeviceStatus(deviceID, model.Offline)
		return err
	}
	ready, err := conn.ReadBool(ctx, profile.SignalMap.DeviceReady)
	if err != nil {
		m.UpdateDeviceStatus(deviceID, model.Offline)
		return gwerrors.NewDetail(gwerrors.CodePollingException, "failed to read device_ready", err)
	}
	if ready {
		m.UpdateDeviceStatus(deviceID, model.Idle)
	} else {
		m.UpdateDeviceStatus(deviceID, model.Busy)
	}
	return nil
}

// StopMonitoring removes the device's connector and clears its status.
func (m *Monitor) StopMonitoring(deviceID string) {
	m.pool.Remove(deviceID)
	m.mu.Lock()
	delete(m.status, deviceID)
	m.mu.Unlock()
}

// GetDeviceStatus returns deviceID's last known status, defaulting to
// Offline if unknown.
func (m *Monitor) GetDeviceStatus(deviceID string) model.DeviceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[deviceID]
	if !ok {
		return model.Offline
	}
	return s
}

// UpdateDeviceStatus atomically compare-and-sets deviceID's status,
// emitting DeviceStatusChanged iff it actually changed.
func (m *Monitor) UpdateDeviceStatus(deviceID string, next model.DeviceStatus) {
	m.mu.Lock()
	prev, ok := m.status[deviceID]
	if !ok {
		prev = model.Offline
	}
	changed := prev != next
	if changed {
		m.status[deviceID] = next
	}
	m.mu.Unlock()

	if changed {
		m.log.Info("device status changed", gwlog.F("device_id", deviceID), gwlog.F("from", prev.String()), gwlog.F("to", next.String()))
		m.hub.DeviceStatusChanged.Publish(events.DeviceStatusChanged{
			DeviceID: deviceID,
			Previous: prev,
			Current:  next,
			At:       now(),
		})
	}
}

// ResetDeviceStatus succeeds only if the device's current status is not
// Busy and its PLC alarm/error_code are both clear, then sets Idle.
func (m *Monitor) ResetDeviceStatus(ctx context.Context, deviceID string) (bool, error) {
	if m.GetDeviceStatus(deviceID) == model.Busy {
		return false, nil
	}
	profile, conn, err := m.resolve(ctx, deviceID)
	if err != nil {
		return false, err
	}
	alarm, err := conn.ReadBool(ctx, profile.SignalMap.Alarm)
	if err != nil {
		return false, gwerrors.NewDetail(gwerrors.CodePollingException, "failed to read alarm", err)
	}
	if alarm {
		return false, nil
	}
	errCode, err := conn.ReadInt32(ctx, profile.SignalMap.ErrorCode)
	if err != nil {
		return false, gwerrors.NewDetail(gwerrors.CodePollingException, "failed to read error_code", err)
	}
	if errCode != 0 {
		return false, nil
	}
	m.UpdateDeviceStatus(deviceID, model.Idle)
	return true, nil
}

// GetIdleDevices fans out over every configured device, under the
// configured concurrency cap, reading command_acknowledged and the
// device's actual location. A device is idle iff command_acknowledged is
// false and its location read succeeds; status is updated accordingly.
func (m *Monitor) GetIdleDevices(ctx context.Context) []model.DeviceInfo {
	ids := make([]string, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}

	var mu sync.Mutex
	var idle []model.DeviceInfo

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrentOperations)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			profile := m.profiles[id]
			conn, found := m.pool.Peek(id)
			if !found {
				m.UpdateDeviceStatus(id, model.Offline)
				return nil
			}
			acked, err := conn.ReadBool(gctx, profile.SignalMap.CommandAcknowledged)
			if err != nil {
				m.UpdateDeviceStatus(id, model.Offline)
				return nil
			}
			loc, err := m.readLocation(gctx, conn, profile)
			if err != nil || acked {
				if acked {
					m.UpdateDeviceStatus(id, model.Busy)
				}
				return nil
			}
			m.UpdateDeviceStatus(id, model.Idle)
			mu.Lock()
			idle = append(idle, model.DeviceInfo{Profile: profile, Status: model.Idle, Location: loc})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return idle
}

// GetCurrentLocation reads deviceID's actual floor/rail/block in parallel,
// returning false if any read fails or the device connector is unknown.
func (m *Monitor) GetCurrentLocation(ctx context.Context, deviceID string) (model.Location, bool) {
	profile, ok := m.profiles[deviceID]
	if !ok {
		return model.Location{}, false
	}
	conn, found := m.pool.Peek(deviceID)
	if !found {
		return model.Location{}, false
	}
	loc, err := m.readLocation(ctx, conn, profile)
	if err != nil {
		return model.Location{}, false
	}
	return loc, true
}

func (m *Monitor) readLocation(ctx context.Context, conn plc.Connector, profile model.DeviceProfile) (model.Location, error) {
	var floor, rail, block int16
	var ferr, rerr, berr error
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); floor, ferr = conn.ReadInt16(ctx, profile.SignalMap.ActualFloor) }()
	go func() { defer wg.Done(); rail, rerr = conn.ReadInt16(ctx, profile.SignalMap.ActualRail) }()
	go func() { defer wg.Done(); block, berr = conn.ReadInt16(ctx, profile.SignalMap.ActualBlock) }()
	wg.Wait()
	if ferr != nil {
		return model.Location{}, ferr
	}
	if rerr != nil {
		return model.Location{}, rerr
	}
	if berr != nil {
		return model.Location{}, berr
	}
	return model.Location{Floor: floor, Rail: rail, Block: block}, nil
}

// ResetSystem zeroes every command/status/location/barcode/direction/gate/error
// field for deviceID and sets it Idle. It refuses unless every address in
// the device's signal map falls within safetyPrefixes, and is intended for
// test-mode use only (enforced by the caller per spec section 6).
func (m *Monitor) ResetSystem(ctx context.Context, deviceID string, safetyPrefixes []string) error {
	profile, ok := m.profiles[deviceID]
	if !ok {
		return gwerrors.NewDetail(gwerrors.CodeDeviceNotRegistered, "device not registered: "+deviceID, nil)
	}
	if !allAddressesSafe(profile.SignalMap, safetyPrefixes) {
		return gwerrors.NewDetail(gwerrors.CodeExecutionException, "reset_system refused: signal map outside safety scope", nil)
	}
	conn, err := m.pool.Get(ctx, profile)
	if err != nil {
		return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "failed to connect for reset_system", err)
	}

	sm := profile.SignalMap
	boolAddrs := []string{
		sm.InboundCommand, sm.OutboundCommand, sm.TransferCommand, sm.StartProcessCommand, sm.CancelCommand,
		sm.InboundComplete, sm.OutboundComplete, sm.TransferComplete, sm.CommandRejected, sm.CommandAcknowledged,
		sm.Alarm, sm.BarcodeValid, sm.BarcodeInvalid, sm.InDirBlock, sm.OutDirBlock,
	}
	for _, addr := range boolAddrs {
		if err := conn.WriteBool(ctx, addr, false); err != nil {
			return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "reset_system write failed", err)
		}
	}
	int16Addrs := []string{
		sm.SourceFloor, sm.SourceRail, sm.SourceBlock,
		sm.TargetFloor, sm.TargetRail, sm.TargetBlock,
		sm.ActualFloor, sm.ActualRail, sm.ActualBlock,
		sm.GateNumber,
	}
	for _, addr := range int16Addrs {
		if err := conn.WriteInt16(ctx, addr, 0); err != nil {
			return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "reset_system write failed", err)
		}
	}
	if err := conn.WriteInt32(ctx, sm.ErrorCode, 0); err != nil {
		return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "reset_system write failed", err)
	}
	for _, addr := range sm.BarcodeChars {
		if err := conn.WriteString(ctx, addr, ""); err != nil {
			return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "reset_system write failed", err)
		}
	}

	m.UpdateDeviceStatus(deviceID, model.Idle)
	return nil
}

func allAddressesSafe(sm model.SignalMap, prefixes []string) bool {
	addrs := []string{
		sm.InboundCommand, sm.OutboundCommand, sm.TransferCommand, sm.StartProcessCommand, sm.CancelCommand,
		sm.InboundComplete, sm.OutboundComplete, sm.TransferComplete, sm.CommandRejected, sm.CommandAcknowledged,
		sm.Alarm, sm.ErrorCode,
		sm.SourceFloor, sm.SourceRail, sm.SourceBlock,
		sm.TargetFloor, sm.TargetRail, sm.TargetBlock,
		sm.ActualFloor, sm.ActualRail, sm.ActualBlock,
		sm.BarcodeValid, sm.BarcodeInvalid, sm.InDirBlock, sm.OutDirBlock, sm.GateNumber,
		sm.DeviceReady, sm.ConnectedToSoftware,
	}
	addrs = append(addrs, sm.BarcodeChars[:]...)
	for _, addr := range addrs {
		if !hasAnyPrefix(addr, prefixes) {
			return false
		}
	}
	return true
}

func hasAnyPrefix(addr string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(addr, p) {
			return true
		}
	}
	return false
}

func (m *Monitor) resolve(ctx context.Context, deviceID string) (model.DeviceProfile, plc.Connector, error) {
	profile, ok := m.profiles[deviceID]
	if !ok {
		return model.DeviceProfile{}, nil, gwerrors.NewDetail(gwerrors.CodeDeviceNotRegistered, "device not registered: "+deviceID, nil)
	}
	conn, err := m.pool.Get(ctx, profile)
	if err != nil {
		return model.DeviceProfile{}, nil, gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "failed to connect device "+deviceID, err)
	}
	return profile, conn, nil
}
