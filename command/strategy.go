// Package command implements CommandStrategies and CommandExecutor (spec
// sections 4.G, 4.H): per-command-type trigger/poll state machines and the
// executor that owns their lifecycle, cancellation, and event forwarding.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/honhatphi/shuttlegw/devicemonitor"
	"github.com/honhatphi/shuttlegw/events"
	"github.com/honhatphi/shuttlegw/gwerrors"
	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
)

// settlementDelay is the pause observed after *_complete appears, before the
// task is reported Succeeded (spec section 4.G; value preserved verbatim
// per spec section 9 Open Questions — "exact settlement delay appears
// empirical").
const settlementDelay = 6 * time.Second

// alarmSubLoopMax bounds the alarm-resolution sub-loop (spec section 4.G).
const alarmSubLoopMax = 30 * time.Minute

// tickInterval is the polling cadence (spec section 4.G, section 5).
const tickInterval = time.Second

// Emitter is how a strategy reports its outcome. It is scoped to exactly
// one task/device pair, so unlike a shared pub/sub bus it requires no
// subscribe-once bookkeeping — CommandExecutor constructs a fresh Emitter
// per execute() call and wires it to the event hub and dispatcher.
type Emitter interface {
	Succeeded(deviceID, taskID string)
	Failed(deviceID, taskID string, reason events.FailureReason, detail *gwerrors.Detail)
	Cancelled(deviceID, taskID string)
}

// Strategy is the shared contract for Inbound/Outbound/Transfer command
// handling (spec section 4.G).
type Strategy interface {
	// Trigger performs the type's initial PLC writes.
	Trigger(ctx context.Context, conn plc.Connector, profile model.DeviceProfile, task *model.TransportTask) error
	// Poll runs the completion/alarm/cancel/timeout loop until a terminal
	// outcome is emitted via params.Emit, or ctx is cancelled.
	Poll(ctx context.Context, params PollParams) error
}

// PollParams bundles everything a strategy's poll loop needs.
type PollParams struct {
	DeviceID        string
	Task            *model.TransportTask
	Conn            plc.Connector
	Profile         model.DeviceProfile
	Timeout         time.Duration
	TimeoutLabel    string
	Monitor         *devicemonitor.Monitor
	PauseDispatcher func()
	RemoveTask      func(taskID string) bool
	Emit            Emitter
	// PerTick runs before each tick's completion check (used by Inbound to
	// weave barcode reads into the polling cadence).
	PerTick func(ctx context.Context)
}

// runPoll is the shared tick-cadence loop used by all three strategies,
// parameterized by the type-specific completion address.
func runPoll(ctx context.Context, completeAddr string, p PollParams) error {
	sm := p.Profile.SignalMap
	deadline := time.Now().Add(p.Timeout)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil // cancellation requested by caller context; no emission here
		case <-ticker.C:
			if time.Now().After(deadline) {
				p.RemoveTask(p.Task.TaskID)
				p.Emit.Failed(p.DeviceID, p.Task.TaskID, events.ReasonTimeout,
					gwerrors.NewDetail(gwerrors.CodeTimeout, fmt.Sprintf("Timeout after %s", p.TimeoutLabel), nil))
				return nil
			}
			if p.PerTick != nil {
				p.PerTick(ctx)
			}

			cancelReq, err := p.Conn.ReadBool(ctx, sm.CancelCommand)
			if err != nil {
				return p.pollException(err)
			}
			if cancelReq {
				p.RemoveTask(p.Task.TaskID)
				p.Monitor.UpdateDeviceStatus(p.DeviceID, model.Error)
				p.Emit.Cancelled(p.DeviceID, p.Task.TaskID)
				return nil
			}

			rejected, err := p.Conn.ReadBool(ctx, sm.CommandRejected)
			if err != nil {
				return p.pollException(err)
			}
			alarm, err := p.Conn.ReadBool(ctx, sm.Alarm)
			if err != nil {
				return p.pollException(err)
			}
			complete, err := p.Conn.ReadBool(ctx, completeAddr)
			if err != nil {
				return p.pollException(err)
			}

			switch {
			case (rejected || alarm) && !complete:
				p.failRunning(ctx)
				return runAlarmSubLoop(ctx, completeAddr, p)
			case complete && !alarm:
				sleepCtx(ctx, settlementDelay)
				p.RemoveTask(p.Task.TaskID)
				p.Monitor.UpdateDeviceStatus(p.DeviceID, model.Idle)
				p.Emit.Succeeded(p.DeviceID, p.Task.TaskID)
				return nil
			case complete && alarm:
				p.failRunning(ctx)
				return runAlarmSubLoop(ctx, completeAddr, p)
			}
			// none of the above: continue polling
		}
	}
}

func (p PollParams) pollException(cause error) error {
	p.Emit.Failed(p.DeviceID, p.Task.TaskID, events.ReasonPollingException,
		gwerrors.NewDetail(gwerrors.CodePollingException, "poll read failed", cause))
	return cause
}

// failRunning reads error_code, sets the device to Error, pauses the
// dispatcher, and emits Failed(RunningFailure, code).
func (p PollParams) failRunning(ctx context.Context) {
	code, _ := p.Conn.ReadInt32(ctx, p.Profile.SignalMap.ErrorCode)
	p.Monitor.UpdateDeviceStatus(p.DeviceID, model.Error)
	p.PauseDispatcher()
	p.Emit.Failed(p.DeviceID, p.Task.TaskID, events.ReasonRunningFailure,
		gwerrors.NewDetail(gwerrors.Code(code), "Running failure reported by device", nil))
}

// runAlarmSubLoop re-polls complete/cancel_command at the same cadence for
// up to alarmSubLoopMax, after a RunningFailure has already been emitted
// (spec section 4.G: "enter alarm-resolution sub-loop"). A subsequent
// cancel emits Cancelled; a subsequent complete emits Succeeded after
// settlement. Timeout returns silently — the earlier Failed already fired.
func runAlarmSubLoop(ctx context.Context, completeAddr string, p PollParams) error {
	sm := p.Profile.SignalMap
	deadline := time.Now().Add(alarmSubLoopMax)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil
			}
			cancelReq, err := p.Conn.ReadBool(ctx, sm.CancelCommand)
			if err != nil {
				return err
			}
			if cancelReq {
				p.RemoveTask(p.Task.TaskID)
				p.Emit.Cancelled(p.DeviceID, p.Task.TaskID)
				return nil
			}
			complete, err := p.Conn.ReadBool(ctx, completeAddr)
			if err != nil {
				return err
			}
			if complete {
				sleepCtx(ctx, settlementDelay)
				p.RemoveTask(p.Task.TaskID)
				p.Monitor.UpdateDeviceStatus(p.DeviceID, model.Idle)
				p.Emit.Succeeded(p.DeviceID, p.Task.TaskID)
				return nil
			}
		}
	}
}

// sleepCtx sleeps d, returning early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// writeAll writes every (address, value) pair in order, returning the first
// error encountered.
func writeAll(ctx context.Context, writes ...func() error) error {
	for _, w := range writes {
		if err := w(); err != nil {
			return err
		}
	}
	return nil
}
