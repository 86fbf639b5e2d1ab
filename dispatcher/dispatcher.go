// Package dispatcher implements TaskDispatcher (spec section 4.F): queue
// orchestration, pause/resume, single-flight processing, and assignment
// lifecycle.
package dispatcher

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/honhatphi/shuttlegw/assignment"
	"github.com/honhatphi/shuttlegw/devicemonitor"
	"github.com/honhatphi/shuttlegw/gwerrors"
	"github.com/honhatphi/shuttlegw/gwlog"
	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc/pool"
	"github.com/honhatphi/shuttlegw/queue"
	"github.com/honhatphi/shuttlegw/throttle"
)

// State is the dispatcher's lifecycle state.
type State int

const (
	Paused State = iota
	Running
	Disposed
)

func (s State) String() string {
	switch s {
	case Paused:
		return "Paused"
	case Running:
		return "Running"
	case Disposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// Config controls the dispatcher's queue bound, per-cycle batch size, and
// auto-pause behavior.
type Config struct {
	MaxTasksPerCycle  int
	MaxQueueSize      int
	AutoPauseWhenEmpty bool
	AssignmentPace    time.Duration
}

// ApplyDefaults fills zero-valued fields with their spec-mandated defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxTasksPerCycle == 0 {
		c.MaxTasksPerCycle = 10
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = 50
	}
	if c.AssignmentPace == 0 {
		c.AssignmentPace = time.Second
	}
}

// TaskAssigned is the outbound signal the dispatcher emits when it commits
// an assignment; CommandExecutor subscribes to drive the PLC side.
type TaskAssigned struct {
	DeviceID string
	Task     *model.TransportTask
	Profile  model.DeviceProfile
}

// AssignedBus is the bus the dispatcher publishes TaskAssigned to.
type AssignedBus interface {
	Publish(TaskAssigned)
}

type assignedBus struct {
	mu        sync.RWMutex
	listeners []func(TaskAssigned)
}

func (b *assignedBus) Subscribe(fn func(TaskAssigned)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *assignedBus) Publish(ev TaskAssigned) {
	b.mu.RLock()
	listeners := append([]func(TaskAssigned){}, b.listeners...)
	b.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Dispatcher is the priority task queue's orchestrator.
type Dispatcher struct {
	cfg      Config
	q        *queue.Queue
	strategy *assignment.Strategy
	monitor  *devicemonitor.Monitor
	pool     *pool.Pool
	log      gwlog.Logger
	pacer    *throttle.Pacer

	TaskAssignedBus *assignedBus

	stateMu sync.RWMutex
	state   State

	assigned *assignment.AssignedLookup

	processing int32 // atomic single-flight flag
}

// New constructs a Dispatcher. Initial state is Paused if AutoPauseWhenEmpty,
// else Running (spec section 3 DispatcherState).
func New(cfg Config, q *queue.Queue, strategy *assignment.Strategy, monitor *devicemonitor.Monitor, p *pool.Pool, log gwlog.Logger) *Dispatcher {
	cfg.ApplyDefaults()
	initial := Running
	if cfg.AutoPauseWhenEmpty {
		initial = Paused
	}
	return &Dispatcher{
		cfg:             cfg,
		q:               q,
		strategy:        strategy,
		monitor:         monitor,
		pool:            p,
		log:             log,
		pacer:           throttle.NewPacer(cfg.AssignmentPace),
		TaskAssignedBus: &assignedBus{},
		state:           initial,
		assigned:        assignment.NewAssignedLookup(),
	}
}

// State returns the dispatcher's current lifecycle state.
func (d *Dispatcher) State() State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

// Pause transitions to Paused. Idempotent.
func (d *Dispatcher) Pause() {
	d.stateMu.Lock()
	if d.state != Disposed {
		d.state = Paused
	}
	d.stateMu.Unlock()
}

// Resume transitions to Running and schedules a processing pass. Idempotent.
func (d *Dispatcher) Resume(ctx context.Context) {
	d.stateMu.Lock()
	if d.state != Disposed {
		d.state = Running
	}
	d.stateMu.Unlock()
	d.ProcessQueueIfNeeded(ctx)
}

// Dispose transitions to Disposed, terminal.
func (d *Dispatcher) Dispose() {
	d.stateMu.Lock()
	d.state = Disposed
	d.stateMu.Unlock()
}

// IsPaused reports whether the dispatcher is currently Paused.
func (d *Dispatcher) IsPaused() bool {
	return d.State() == Paused
}

// EnqueueTasks rejects the whole batch with gwerrors.CodeTaskQueueFull if it
// would breach MaxQueueSize; otherwise assigns priority per spec section 3
// and, if Running, schedules a processing pass.
func (d *Dispatcher) EnqueueTasks(ctx context.Context, tasks []*model.TransportTask) error {
	current := d.q.Count()
	if current+len(tasks) > d.cfg.MaxQueueSize {
		first := ""
		if len(tasks) > 0 {
			first = tasks[0].TaskID
		}
		return gwerrors.NewDetail(gwerrors.CodeTaskQueueFull,
			"Task queue is full. Cannot enqueue task "+first+". Current: "+strconv.Itoa(current)+", Max: "+strconv.Itoa(d.cfg.MaxQueueSize), nil)
	}
	for _, t := range tasks {
		if err := d.q.Enqueue(t, model.PriorityFor(t)); err != nil {
			return err
		}
	}
	if d.State() == Running {
		d.ProcessQueueIfNeeded(ctx)
	}
	return nil
}

// ProcessQueueIfNeeded runs one single-flight processing pass: a no-op if
// Paused, Disposed, or already processing on another goroutine, and drains
// up to MaxTasksPerCycle assignments before releasing its flag.
func (d *Dispatcher) ProcessQueueIfNeeded(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&d.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&d.processing, 0)

	for i := 0; i < d.cfg.MaxTasksPerCycle; i++ {
		if d.State() != Running {
			return
		}
		more := d.processOneAssignment(ctx)
		if !more {
			return
		}
		if i < d.cfg.MaxTasksPerCycle-1 {
			if err := d.pacer.Wait(ctx); err != nil {
				return
			}
		}
	}
}

// processOneAssignment implements one iteration of the normative
// peek-then-commit processing loop (spec section 4.F steps 2-7). It returns
// true if the caller should attempt another iteration (either an assignment
// committed, or a retryable condition was hit), false to stop the cycle.
func (d *Dispatcher) processOneAssignment(ctx context.Context) bool {
	entry, ok := d.q.TryPeek()
	if !ok {
		return false
	}

	idle := d.monitor.GetIdleDevices(ctx)
	profile, ok := d.strategy.Pick(entry.Task, idle, d.assigned.Snapshot(), nil)
	if !ok {
		return false
	}

	if _, busy := d.assigned.Get(profile.ID); busy {
		return true // re-peek; another pass may free the device
	}

	if conn, found := d.pool.Peek(profile.ID); found {
		ready, err := conn.ReadBool(ctx, profile.SignalMap.DeviceReady)
		if err == nil && !ready {
			return true // device_ready false: leave task queued, retry later
		}
		// read error or true: proceed best-effort (spec section 9)
	}

	dequeued, ok := d.q.TryDequeueTask(entry.Task.TaskID)
	if !ok {
		return true // head changed concurrently; re-peek
	}

	d.assigned.Set(profile.ID, dequeued.Task.TaskID)
	d.log.Info("task assigned", gwlog.F("task_id", dequeued.Task.TaskID), gwlog.F("device_id", profile.ID))
	d.TaskAssignedBus.Publish(TaskAssigned{DeviceID: profile.ID, Task: dequeued.Task, Profile: profile})
	return true
}

// CompleteTaskAssignment removes the device->task mapping iff it matches.
// If the queue is still non-empty it resumes processing (Paused->Running)
// and schedules another pass; otherwise, if AutoPauseWhenEmpty, it pauses.
func (d *Dispatcher) CompleteTaskAssignment(ctx context.Context, deviceID, taskID string) {
	if !d.assigned.Delete(deviceID, taskID) {
		return
	}
	if !d.q.IsEmpty() {
		d.stateMu.Lock()
		if d.state == Paused {
			d.state = Running
		}
		d.stateMu.Unlock()
		d.ProcessQueueIfNeeded(ctx)
		return
	}
	if d.cfg.AutoPauseWhenEmpty {
		d.stateMu.Lock()
		if d.state == Running {
			d.state = Paused
		}
		d.stateMu.Unlock()
	}
}

// FailCritical is called by CommandExecutor on a RunningFailure or
// PlcConnectionFailed outcome: it releases the device's assignment (the
// task has already left the queue and will not be re-enqueued here — the
// caller decides) and forces the dispatcher Paused, requiring an explicit
// Resume (spec section 5 Manual-resume policy).
func (d *Dispatcher) FailCritical(deviceID, taskID string) {
	d.assigned.Delete(deviceID, taskID)
	d.stateMu.Lock()
	if d.state != Disposed {
		d.state = Paused
	}
	d.stateMu.Unlock()
}

// RemoveTask removes a queued (not yet assigned) task. It reports whether a
// matching entry was found and removed. If the queue becomes empty and
// auto-pause is configured, the dispatcher enters Paused.
func (d *Dispatcher) RemoveTask(taskID string) bool {
	removed := d.q.TryRemove(taskID)
	if removed && d.q.IsEmpty() && d.cfg.AutoPauseWhenEmpty {
		d.stateMu.Lock()
		if d.state == Running {
			d.state = Paused
		}
		d.stateMu.Unlock()
	}
	return removed
}

// RemoveTasks removes each of ids, returning the count actually removed.
func (d *Dispatcher) RemoveTasks(ids []string) int {
	n := 0
	for _, id := range ids {
		if d.RemoveTask(id) {
			n++
		}
	}
	return n
}

// GetCurrentTask returns the task id currently assigned to deviceID, if any.
func (d *Dispatcher) GetCurrentTask(deviceID string) (string, bool) {
	return d.assigned.Get(deviceID)
}

// GetQueuedTasks returns a snapshot of every task currently queued.
func (d *Dispatcher) GetQueuedTasks() []queue.Entry {
	return d.q.Snapshot()
}

// OnDeviceIdle should be invoked by the caller on DeviceStatusChanged ->
// Idle: if not Paused and the queue is non-empty, it schedules a processing
// pass (spec section 4.F).
func (d *Dispatcher) OnDeviceIdle(ctx context.Context) {
	if d.State() == Running && !d.q.IsEmpty() {
		d.ProcessQueueIfNeeded(ctx)
	}
}

// processQueueDequeueFirst is the non-normative "dequeue-then-reject"
// alternate processing pass (spec section 9 Open Question, third bullet):
// it dequeues the head optimistically, then picks a device, re-enqueueing
// on failure to find one. It is never called by ProcessQueueIfNeeded; it
// exists only so its own test can document the rejected alternative's
// behavior for anyone auditing the ambiguity.
func (d *Dispatcher) processQueueDequeueFirst(ctx context.Context) bool {
	entry, ok := d.q.TryDequeue()
	if !ok {
		return false
	}
	idle := d.monitor.GetIdleDevices(ctx)
	profile, ok := d.strategy.Pick(entry.Task, idle, d.assigned.Snapshot(), nil)
	if !ok {
		// re-enqueue at the tail of its priority level: this is exactly the
		// head-stability problem the normative peek-then-commit form avoids.
		_ = d.q.Enqueue(entry.Task, entry.Priority)
		return false
	}
	d.assigned.Set(profile.ID, entry.Task.TaskID)
	d.TaskAssignedBus.Publish(TaskAssigned{DeviceID: profile.ID, Task: entry.Task, Profile: profile})
	return true
}
