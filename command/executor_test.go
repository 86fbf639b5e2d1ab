package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honhatphi/shuttlegw/assignment"
	"github.com/honhatphi/shuttlegw/devicemonitor"
	"github.com/honhatphi/shuttlegw/dispatcher"
	"github.com/honhatphi/shuttlegw/events"
	"github.com/honhatphi/shuttlegw/gwlog"
	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
	"github.com/honhatphi/shuttlegw/plc/plcfake"
	"github.com/honhatphi/shuttlegw/plc/pool"
	"github.com/honhatphi/shuttlegw/queue"
)

func newExecutorHarness(t *testing.T) (*Executor, *dispatcher.Dispatcher, *events.Hub, *plcfake.Connector, model.DeviceProfile) {
	t.Helper()
	profile := model.DeviceProfile{ID: "dev-1", SignalMap: testSignalMap("dev-1")}
	conn := plcfake.New()
	p := pool.New(func(ctx context.Context, pr model.DeviceProfile) (plc.Connector, error) {
		return conn, nil
	})
	hub := events.NewHub()
	mon := devicemonitor.New(devicemonitor.Config{}, []model.DeviceProfile{profile}, p, hub, gwlog.Noop())
	strategy := assignment.New(assignment.ReferenceLocations{})
	q := queue.New(10)
	d := dispatcher.New(dispatcher.Config{AssignmentPace: time.Millisecond}, q, strategy, mon, p, gwlog.Noop())

	e := New(hub, d, mon, gwlog.Noop(), nil, Timeouts{Inbound: time.Minute, Outbound: time.Minute, Transfer: time.Minute})
	return e, d, hub, conn, profile
}

func TestExecutor_ExecuteRejectsMissingInputs(t *testing.T) {
	e, _, _, conn, profile := newExecutorHarness(t)
	err := e.Execute(context.Background(), "", model.NewTransportTask("t1", model.Outbound), conn, profile)
	assert.Error(t, err)
}

func TestExecutor_ExecuteRejectsUnknownCommandType(t *testing.T) {
	e, _, _, conn, profile := newExecutorHarness(t)
	task := model.NewTransportTask("t1", model.CommandType(99))
	err := e.Execute(context.Background(), "dev-1", task, conn, profile)
	assert.Error(t, err)
}

func TestExecutor_ExecuteTriggersAndPollsToSuccess(t *testing.T) {
	e, d, hub, conn, profile := newExecutorHarness(t)
	task := model.NewTransportTask("t1", model.Outbound).WithSourceLocation(model.Location{Floor: 1})
	d.GetCurrentTask("dev-1") // no-op sanity call

	var succeeded []events.TaskSucceeded
	hub.TaskSucceeded.Subscribe(func(ev events.TaskSucceeded) { succeeded = append(succeeded, ev) })

	require.NoError(t, e.Execute(context.Background(), "dev-1", task, conn, profile))
	assert.Equal(t, true, conn.Get(profile.SignalMap.OutboundCommand))

	conn.Set(profile.SignalMap.OutboundComplete, true)

	require.Eventually(t, func() bool { return len(succeeded) == 1 }, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, "t1", succeeded[0].TaskID)
}

func TestExecutor_CancelTaskFiresCancellation(t *testing.T) {
	e, _, hub, conn, profile := newExecutorHarness(t)
	task := model.NewTransportTask("t1", model.Outbound).WithSourceLocation(model.Location{Floor: 1})

	var cancelled []events.TaskCancelled
	hub.TaskCancelled.Subscribe(func(ev events.TaskCancelled) { cancelled = append(cancelled, ev) })

	require.NoError(t, e.Execute(context.Background(), "dev-1", task, conn, profile))
	e.CancelTask("t1")

	require.Eventually(t, func() bool { return len(e.active) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, cancelled, "ctx cancellation alone does not emit Cancelled, only a device-initiated cancel_command does")
}

func TestExecutor_DisposeCancelsAllActivePolls(t *testing.T) {
	e, _, _, conn, profile := newExecutorHarness(t)
	task1 := model.NewTransportTask("t1", model.Outbound).WithSourceLocation(model.Location{Floor: 1})
	task2 := model.NewTransportTask("t2", model.Outbound).WithSourceLocation(model.Location{Floor: 1})

	require.NoError(t, e.Execute(context.Background(), "dev-1", task1, conn, profile))
	require.NoError(t, e.Execute(context.Background(), "dev-1", task2, conn, profile))

	e.Dispose()

	require.Eventually(t, func() bool { return len(e.active) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherEmitter_FailedRunningFailureForcesPauseWithoutResume(t *testing.T) {
	_, d, hub, _, _ := newExecutorHarness(t)
	emitter := &dispatcherEmitter{hub: hub, dispatcher: d, ctx: context.Background()}
	d.Resume(context.Background())

	emitter.Failed("dev-1", "t1", events.ReasonRunningFailure, nil)

	assert.Equal(t, dispatcher.Paused, d.State())
}

func TestDispatcherEmitter_SucceededCompletesAssignment(t *testing.T) {
	_, d, hub, _, _ := newExecutorHarness(t)
	emitter := &dispatcherEmitter{hub: hub, dispatcher: d, ctx: context.Background()}

	var got []events.TaskSucceeded
	hub.TaskSucceeded.Subscribe(func(ev events.TaskSucceeded) { got = append(got, ev) })

	emitter.Succeeded("dev-1", "t1")
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].TaskID)
}
