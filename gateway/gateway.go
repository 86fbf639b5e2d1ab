// Package gateway wires components A-I into the façade described by spec
// sections 4.J and 6: device/command/validation/queue operations, and the
// five fan-out events.
package gateway

import (
	"context"
	"sync"

	"github.com/honhatphi/shuttlegw/assignment"
	"github.com/honhatphi/shuttlegw/barcode"
	"github.com/honhatphi/shuttlegw/command"
	"github.com/honhatphi/shuttlegw/config"
	"github.com/honhatphi/shuttlegw/devicemonitor"
	"github.com/honhatphi/shuttlegw/dispatcher"
	"github.com/honhatphi/shuttlegw/events"
	"github.com/honhatphi/shuttlegw/gwerrors"
	"github.com/honhatphi/shuttlegw/gwlog"
	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc/pool"
	"github.com/honhatphi/shuttlegw/queue"
)

// inboundReferenceLocation is the example reference point spec section 4.E
// names for Inbound tasks (which have no source_location of their own).
var inboundReferenceLocation = model.Location{Floor: 1, Rail: 14, Block: 5}

// Gateway is the reentrant façade wiring every component (spec section
// 4.J). Construct with New; multiple Gateway instances may coexist in one
// process (the core is instance-based — see singleton for an optional
// process-wide wrapper).
type Gateway struct {
	cfg config.Config
	log gwlog.Logger

	pool       *pool.Pool
	monitor    *devicemonitor.Monitor
	queue      *queue.Queue
	strategy   *assignment.Strategy
	dispatcher *dispatcher.Dispatcher
	validator  *barcode.Validator
	executor   *command.Executor
	hub        *events.Hub

	devices map[string]model.DeviceProfile

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
}

// New validates cfg, applies its defaults, and wires A-I using factory to
// create PLC connectors (the wire protocol itself is out of scope — spec
// section 1).
func New(cfg config.Config, factory pool.Factory) (*Gateway, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := gwlog.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	hub := events.NewHub()
	p := pool.New(factory)
	monitor := devicemonitor.New(devicemonitor.Config{MaxConcurrentOperations: cfg.DeviceMonitor.MaxConcurrentOperations}, cfg.Devices, p, hub, log)
	q := queue.New(cfg.TaskDispatcher.MaxQueueSize)
	strategy := assignment.New(assignment.ReferenceLocations{Inbound: inboundReferenceLocation})
	d := dispatcher.New(dispatcher.Config{
		MaxTasksPerCycle:   cfg.TaskDispatcher.MaxTasksPerCycle,
		MaxQueueSize:       cfg.TaskDispatcher.MaxQueueSize,
		AutoPauseWhenEmpty: cfg.TaskDispatcher.AutoPauseWhenEmpty,
	}, q, strategy, monitor, p, log)

	validator := barcode.New(barcode.Config{
		ValidationTimeout: cfg.ValidationTimeout(),
		MaxBarcodeLength:  cfg.BarcodeHandler.MaxBarcodeLength,
		DeviceCount:       len(cfg.Devices),
	}, p, hub, d.Pause)

	executor := command.New(hub, d, monitor, log, validator, command.Timeouts{
		Inbound:  cfg.InboundTimeout(),
		Outbound: cfg.OutboundTimeout(),
		Transfer: cfg.TransferTimeout(),
	})

	devices := make(map[string]model.DeviceProfile, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		devices[dev.ID] = dev
	}

	ctx, cancel := context.WithCancel(context.Background())

	gw := &Gateway{
		cfg:        cfg,
		log:        log,
		pool:       p,
		monitor:    monitor,
		queue:      q,
		strategy:   strategy,
		dispatcher: d,
		validator:  validator,
		executor:   executor,
		hub:        hub,
		devices:    devices,
		ctx:        ctx,
		cancel:     cancel,
	}

	// Cyclic wiring (spec section 9 Design Notes): the dispatcher emits
	// TaskAssigned, consumed by the executor; the executor forwards outcomes
	// back into the dispatcher via CompleteTaskAssignment/FailCritical.
	// Resolved with explicit post-construction wiring rather than a mutual
	// back-reference, so neither component owns the other.
	d.TaskAssignedBus.Subscribe(func(ev dispatcher.TaskAssigned) {
		conn, err := p.Get(gw.ctx, ev.Profile)
		if err != nil {
			gw.log.Error("connector unavailable for assigned task", gwlog.F("task_id", ev.Task.TaskID), gwlog.F("device_id", ev.DeviceID))
			d.FailCritical(ev.DeviceID, ev.Task.TaskID)
			hub.TaskFailed.Publish(events.TaskFailed{
				DeviceID: ev.DeviceID,
				TaskID:   ev.Task.TaskID,
				Reason:   events.ReasonPlcConnectionFailed,
				Detail:   gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "connector unavailable", err),
			})
			return
		}
		if err := executor.Execute(gw.ctx, ev.DeviceID, ev.Task, conn, ev.Profile); err != nil {
			gw.log.Error("execute failed", gwlog.F("task_id", ev.Task.TaskID), gwlog.F("device_id", ev.DeviceID))
		}
	})
	hub.DeviceStatusChanged.Subscribe(func(ev events.DeviceStatusChanged) {
		if ev.Current == model.Idle {
			d.OnDeviceIdle(gw.ctx)
		}
	})

	go validator.Run(ctx)

	return gw, nil
}

// Dispose tears down background work: cancels all in-flight polls, stops
// the barcode drain loop, and releases every pooled connector.
func (g *Gateway) Dispose() {
	g.dispatcher.Dispose()
	g.executor.Dispose()
	g.cancel()
	g.pool.Dispose()
}

// --- Device operations (spec section 6) ---

// ActivateDevice starts monitoring deviceID.
func (g *Gateway) ActivateDevice(deviceID string) error {
	return g.monitor.StartMonitoring(g.ctx, deviceID)
}

// DeactivateDevice stops monitoring deviceID and releases its connector.
func (g *Gateway) DeactivateDevice(deviceID string) {
	g.monitor.StopMonitoring(deviceID)
}

// IsConnected reports whether deviceID's connector is currently connected.
func (g *Gateway) IsConnected(deviceID string) bool {
	conn, ok := g.pool.Peek(deviceID)
	if !ok {
		return false
	}
	return conn.IsConnected()
}

// GetDeviceStatus returns deviceID's current status (Offline if unknown).
func (g *Gateway) GetDeviceStatus(deviceID string) model.DeviceStatus {
	return g.monitor.GetDeviceStatus(deviceID)
}

// ResetDeviceStatus clears deviceID's status to Idle if the preconditions
// in spec section 4.C hold.
func (g *Gateway) ResetDeviceStatus(deviceID string) (bool, error) {
	return g.monitor.ResetDeviceStatus(g.ctx, deviceID)
}

// ResetSystem is test-mode-only (spec section 6); it refuses in production.
func (g *Gateway) ResetSystem(deviceID string) error {
	if !g.cfg.IsTestMode() {
		return gwerrors.NewDetail(gwerrors.CodeExecutionException, "reset_system is test-mode only", nil)
	}
	return g.monitor.ResetSystem(g.ctx, deviceID, g.cfg.ResetSystem.SafetyPrefixes)
}

// --- Command operations (spec section 6) ---

// SendCommand validates and enqueues a single task.
func (g *Gateway) SendCommand(task *model.TransportTask) error {
	return g.SendMultipleCommands([]*model.TransportTask{task})
}

// SendMultipleCommands validates every task (task_id uniqueness against the
// current queue, required locations per command type, and — for
// device-pinned tasks — that the device's connected_to_software signal is
// true), then enqueues the whole batch. Validation failures surface
// synchronously with no event emission (spec section 7).
func (g *Gateway) SendMultipleCommands(tasks []*model.TransportTask) error {
	if len(tasks) == 0 {
		return gwerrors.ErrEmptyTaskList
	}

	queued := make(map[string]struct{})
	for _, e := range g.dispatcher.GetQueuedTasks() {
		queued[e.Task.TaskID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if t.TaskID == "" {
			return gwerrors.ErrEmptyTaskID
		}
		if _, dup := seen[t.TaskID]; dup {
			return gwerrors.ErrDuplicateTaskID
		}
		if _, dup := queued[t.TaskID]; dup {
			return gwerrors.ErrDuplicateTaskID
		}
		seen[t.TaskID] = struct{}{}
		if err := t.Validate(); err != nil {
			return err
		}
		if t.Pinned() {
			if err := g.requireConnectedToSoftware(t.DeviceID); err != nil {
				return err
			}
		}
	}

	return g.dispatcher.EnqueueTasks(g.ctx, tasks)
}

func (g *Gateway) requireConnectedToSoftware(deviceID string) error {
	profile, ok := g.devices[deviceID]
	if !ok {
		return gwerrors.NewDetail(gwerrors.CodeDeviceNotRegistered, "device not registered: "+deviceID, nil)
	}
	conn, err := g.pool.Get(g.ctx, profile)
	if err != nil {
		return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "failed to connect device "+deviceID, err)
	}
	connected, err := conn.ReadBool(g.ctx, profile.SignalMap.ConnectedToSoftware)
	if err != nil {
		return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "failed to read connected_to_software", err)
	}
	if !connected {
		return gwerrors.ErrDeviceNotConnected
	}
	return nil
}

// --- Validation (spec section 6) ---

// SendValidationResult validates is_valid=true requires a target, a
// defined direction, and a gate_number, then forwards to the barcode
// validator. target/direction/gate are pointers so a caller can omit them
// entirely for is_valid=false, mirroring the spec's "target?" optionality
// (spec section 4.I, 6).
func (g *Gateway) SendValidationResult(deviceID, taskID string, isValid bool, target *model.Location, direction *model.DirBlock, gate *uint16) error {
	if isValid && (target == nil || direction == nil || gate == nil) {
		return barcode.ErrInvalidResult
	}
	profile, ok := g.devices[deviceID]
	if !ok {
		return gwerrors.NewDetail(gwerrors.CodeDeviceNotRegistered, "device not registered: "+deviceID, nil)
	}
	result := barcode.ValidationResult{IsValid: isValid}
	if target != nil {
		result.Target = *target
	}
	if direction != nil {
		result.Direction = *direction
	}
	if gate != nil {
		result.Gate = *gate
	}
	return g.validator.SendValidationResult(g.ctx, deviceID, taskID, profile, result)
}

// --- Queue operations (spec section 6) ---

// PauseQueue pauses the dispatcher.
func (g *Gateway) PauseQueue() { g.dispatcher.Pause() }

// ResumeQueue resumes the dispatcher and schedules a processing pass.
func (g *Gateway) ResumeQueue() { g.dispatcher.Resume(g.ctx) }

// IsPauseQueue reports whether the dispatcher is Paused.
func (g *Gateway) IsPauseQueue() bool { return g.dispatcher.IsPaused() }

// GetPendingTasks returns a snapshot of every task currently queued.
func (g *Gateway) GetPendingTasks() []*model.TransportTask {
	entries := g.dispatcher.GetQueuedTasks()
	out := make([]*model.TransportTask, len(entries))
	for i, e := range entries {
		out[i] = e.Task
	}
	return out
}

// RemoveTransportTasks removes every id from the queue. It rejects an
// empty list, and rejects outright unless the dispatcher is Paused (spec
// section 6).
func (g *Gateway) RemoveTransportTasks(ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, gwerrors.ErrEmptyTaskList
	}
	if !g.dispatcher.IsPaused() {
		return false, gwerrors.ErrQueueNotPaused
	}
	removed := g.dispatcher.RemoveTasks(ids)
	return removed == len(ids), nil
}

// GetCurrentTask returns the task id currently assigned to deviceID, if any.
func (g *Gateway) GetCurrentTask(deviceID string) (string, bool) {
	return g.dispatcher.GetCurrentTask(deviceID)
}

// --- Device info (spec section 6) ---

// GetIdleDevices returns every device currently observed idle.
func (g *Gateway) GetIdleDevices() []model.DeviceInfo {
	return g.monitor.GetIdleDevices(g.ctx)
}

// GetActualLocation returns deviceID's current location, if readable.
func (g *Gateway) GetActualLocation(deviceID string) (model.Location, bool) {
	return g.monitor.GetCurrentLocation(g.ctx, deviceID)
}

// Events exposes the fan-out event hub for subscribers.
func (g *Gateway) Events() *events.Hub {
	return g.hub
}
