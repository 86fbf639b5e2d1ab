package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/honhatphi/shuttlegw/barcode"
	"github.com/honhatphi/shuttlegw/devicemonitor"
	"github.com/honhatphi/shuttlegw/dispatcher"
	"github.com/honhatphi/shuttlegw/events"
	"github.com/honhatphi/shuttlegw/gwerrors"
	"github.com/honhatphi/shuttlegw/gwlog"
	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
)

// Timeouts holds the per-command-type poll timeout (spec section 6
// "task_timeout.*").
type Timeouts struct {
	Inbound  time.Duration
	Outbound time.Duration
	Transfer time.Duration
}

// Executor implements CommandExecutor (spec section 4.H): it owns active
// polls keyed by task_id, each with its own cancellation, and forwards
// strategy outcomes to the event hub and dispatcher.
type Executor struct {
	hub        *events.Hub
	dispatcher *dispatcher.Dispatcher
	monitor    *devicemonitor.Monitor
	log        gwlog.Logger
	validator  *barcode.Validator
	timeouts   Timeouts

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New constructs an Executor.
func New(hub *events.Hub, d *dispatcher.Dispatcher, monitor *devicemonitor.Monitor, log gwlog.Logger, validator *barcode.Validator, timeouts Timeouts) *Executor {
	return &Executor{
		hub:        hub,
		dispatcher: d,
		monitor:    monitor,
		log:        log,
		validator:  validator,
		timeouts:   timeouts,
		active:     make(map[string]context.CancelFunc),
	}
}

func (e *Executor) strategyFor(cmd model.CommandType) (Strategy, time.Duration, string) {
	switch cmd {
	case model.Inbound:
		return &Inbound{Validator: e.validator}, e.timeouts.Inbound, "inbound"
	case model.Outbound:
		return &Outbound{}, e.timeouts.Outbound, "outbound"
	case model.Transfer:
		return &Transfer{}, e.timeouts.Transfer, "transfer"
	default:
		return nil, 0, ""
	}
}

// Execute validates inputs, triggers the type-specific PLC writes, and
// spawns the poll loop under its own cancellation token (spec section 4.H).
// Exceptions from trigger are mapped to a Failed event before being
// propagated to the caller.
func (e *Executor) Execute(ctx context.Context, deviceID string, task *model.TransportTask, conn plc.Connector, profile model.DeviceProfile) error {
	if deviceID == "" || task == nil {
		return gwerrors.NewDetail(gwerrors.CodeExecutionException, "execute: device_id and task are required", nil)
	}

	strategy, timeout, label := e.strategyFor(task.CommandType)
	if strategy == nil {
		return gwerrors.NewDetail(gwerrors.CodeExecutionException, "execute: unknown command type", nil)
	}

	emitter := &dispatcherEmitter{hub: e.hub, dispatcher: e.dispatcher, ctx: ctx}

	if err := strategy.Trigger(ctx, conn, profile, task); err != nil {
		detail := gwerrors.NewDetail(gwerrors.CodeExecutionException, "trigger failed for "+label, err)
		emitter.Failed(deviceID, task.TaskID, events.ReasonExecutionException, detail)
		return detail
	}

	pollCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.active[task.TaskID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.active, task.TaskID)
			e.mu.Unlock()
			cancel()
		}()

		params := PollParams{
			DeviceID:        deviceID,
			Task:            task,
			Conn:            conn,
			Profile:         profile,
			Timeout:         timeout,
			TimeoutLabel:    fmt.Sprintf("%s timeout (%d minutes)", label, int(timeout.Minutes())),
			Monitor:         e.monitor,
			PauseDispatcher: e.dispatcher.Pause,
			RemoveTask:      e.dispatcher.RemoveTask,
			Emit:            emitter,
		}
		if err := strategy.Poll(pollCtx, params); err != nil {
			e.log.Warn("poll ended with error", gwlog.F("task_id", task.TaskID), gwlog.F("device_id", deviceID), gwlog.F("error", err.Error()))
		}
	}()

	return nil
}

// CancelTask fires the cancellation token for taskID, if an active poll
// owns one.
func (e *Executor) CancelTask(taskID string) {
	e.mu.Lock()
	cancel, ok := e.active[taskID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Dispose cancels and releases every outstanding poll.
func (e *Executor) Dispose() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.active))
	for _, c := range e.active {
		cancels = append(cancels, c)
	}
	e.active = make(map[string]context.CancelFunc)
	e.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// dispatcherEmitter wires strategy outcomes to the event hub and the
// dispatcher's assignment lifecycle.
type dispatcherEmitter struct {
	hub        *events.Hub
	dispatcher *dispatcher.Dispatcher
	ctx        context.Context
}

func (e *dispatcherEmitter) Succeeded(deviceID, taskID string) {
	e.hub.TaskSucceeded.Publish(events.TaskSucceeded{DeviceID: deviceID, TaskID: taskID})
	e.dispatcher.CompleteTaskAssignment(e.ctx, deviceID, taskID)
}

func (e *dispatcherEmitter) Failed(deviceID, taskID string, reason events.FailureReason, detail *gwerrors.Detail) {
	e.hub.TaskFailed.Publish(events.TaskFailed{DeviceID: deviceID, TaskID: taskID, Reason: reason, Detail: detail})
	if reason == events.ReasonRunningFailure || reason == events.ReasonPlcConnectionFailed {
		// manual-resume policy (spec section 5): pause and release the
		// assignment without re-triggering processing.
		e.dispatcher.FailCritical(deviceID, taskID)
		return
	}
	e.dispatcher.CompleteTaskAssignment(e.ctx, deviceID, taskID)
}

func (e *dispatcherEmitter) Cancelled(deviceID, taskID string) {
	e.hub.TaskCancelled.Publish(events.TaskCancelled{DeviceID: deviceID, TaskID: taskID})
	e.dispatcher.CompleteTaskAssignment(e.ctx, deviceID, taskID)
}
