package barcode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honhatphi/shuttlegw/events"
	"github.com/honhatphi/shuttlegw/gwerrors"
	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
	"github.com/honhatphi/shuttlegw/plc/plcfake"
	"github.com/honhatphi/shuttlegw/plc/pool"
)

func testSignalMap(id string) model.SignalMap {
	var chars [10]string
	for i := range chars {
		chars[i] = "DB1." + id + ".barcode_char" + string(rune('0'+i))
	}
	return model.SignalMap{
		BarcodeChars:   chars,
		BarcodeValid:   "DB1." + id + ".barcode_valid",
		BarcodeInvalid: "DB1." + id + ".barcode_invalid",
		TargetFloor:    "DB1." + id + ".target_floor",
		TargetRail:     "DB1." + id + ".target_rail",
		TargetBlock:    "DB1." + id + ".target_block",
		InDirBlock:     "DB1." + id + ".in_dir_block",
		GateNumber:     "DB1." + id + ".gate_number",
	}
}

func newValidator(t *testing.T, pauseCalled *bool) (*Validator, *plcfake.Connector, model.DeviceProfile) {
	t.Helper()
	profile := model.DeviceProfile{ID: "dev-1", SignalMap: testSignalMap("dev-1")}
	conn := plcfake.New()
	p := pool.New(func(ctx context.Context, pr model.DeviceProfile) (plc.Connector, error) {
		return conn, nil
	})
	v := New(Config{ValidationTimeout: 50 * time.Millisecond, DeviceCount: 4}, p, events.NewHub(), func() {
		if pauseCalled != nil {
			*pauseCalled = true
		}
	})
	return v, conn, profile
}

func TestValidator_ReadBarcodeAssemblesPrefix(t *testing.T) {
	v, conn, profile := newValidator(t, nil)
	sm := profile.SignalMap
	conn.Set(sm.BarcodeChars[0], "A")
	conn.Set(sm.BarcodeChars[1], "B")
	conn.Set(sm.BarcodeChars[2], "C")
	// remaining chars are unset (empty string), which stops assembly.

	got := v.ReadBarcode(context.Background(), conn, sm)
	assert.Equal(t, "ABC", got)
}

func TestValidator_ReadBarcodeStopsOnMultiCharWord(t *testing.T) {
	v, conn, profile := newValidator(t, nil)
	sm := profile.SignalMap
	conn.Set(sm.BarcodeChars[0], "A")
	conn.Set(sm.BarcodeChars[1], "BB")
	conn.Set(sm.BarcodeChars[2], "C")

	got := v.ReadBarcode(context.Background(), conn, sm)
	assert.Equal(t, "A", got)
}

func TestValidator_ReadBarcodeReturnsEmptyOnReadError(t *testing.T) {
	v, conn, profile := newValidator(t, nil)
	conn.Disconnect()
	got := v.ReadBarcode(context.Background(), conn, profile.SignalMap)
	assert.Equal(t, "", got)
}

func TestValidator_SendBarcodeResolvesOnMatch(t *testing.T) {
	v, conn, profile := newValidator(t, nil)

	done := make(chan error, 1)
	go func() {
		done <- v.SendBarcode(context.Background(), conn, profile.SignalMap, "dev-1", "task-1", "ABC123")
	}()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, v.TryCompleteValidationTask("task-1", "dev-1"))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SendBarcode did not resolve")
	}
}

func TestValidator_SendBarcodeTimesOut(t *testing.T) {
	v, conn, profile := newValidator(t, nil)
	err := v.SendBarcode(context.Background(), conn, profile.SignalMap, "dev-1", "task-1", "ABC123")
	require.Error(t, err)
	var detail *gwerrors.Detail
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, gwerrors.CodeTimeout, detail.Code)
}

func TestValidator_TryCompleteValidationTaskDeviceMismatchFailsEntry(t *testing.T) {
	v, conn, profile := newValidator(t, nil)

	done := make(chan error, 1)
	go func() {
		done <- v.SendBarcode(context.Background(), conn, profile.SignalMap, "dev-1", "task-1", "ABC123")
	}()
	time.Sleep(10 * time.Millisecond)

	ok := v.TryCompleteValidationTask("task-1", "dev-2")
	assert.False(t, ok, "device mismatch does not count as completing the caller's own request")

	select {
	case err := <-done:
		require.Error(t, err)
		var detail *gwerrors.Detail
		require.ErrorAs(t, err, &detail)
		assert.Equal(t, gwerrors.CodeMismatchedDevice, detail.Code)
	case <-time.After(time.Second):
		t.Fatal("SendBarcode did not resolve after mismatch")
	}
}

func TestValidator_TryCompleteValidationTaskUnknownTaskReturnsFalse(t *testing.T) {
	v, _, _ := newValidator(t, nil)
	assert.False(t, v.TryCompleteValidationTask("ghost", "dev-1"))
}

func TestValidator_SendValidationResultValid(t *testing.T) {
	var paused bool
	v, conn, profile := newValidator(t, &paused)
	sm := profile.SignalMap

	result := ValidationResult{
		IsValid:   true,
		Target:    model.Location{Floor: 1, Rail: 2, Block: 3},
		Direction: model.DirBlock(1),
		Gate:      5,
	}
	err := v.SendValidationResult(context.Background(), "dev-1", "task-1", profile, result)
	require.NoError(t, err)
	assert.False(t, paused)

	assert.Equal(t, true, conn.Get(sm.BarcodeValid))
	assert.Equal(t, false, conn.Get(sm.BarcodeInvalid))
	assert.Equal(t, int16(1), conn.Get(sm.TargetFloor))
	assert.Equal(t, int16(2), conn.Get(sm.TargetRail))
	assert.Equal(t, int16(3), conn.Get(sm.TargetBlock))
	assert.Equal(t, int16(5), conn.Get(sm.GateNumber))
}

func TestValidator_SendValidationResultInvalid(t *testing.T) {
	var paused bool
	v, conn, profile := newValidator(t, &paused)
	sm := profile.SignalMap

	err := v.SendValidationResult(context.Background(), "dev-1", "task-1", profile, ValidationResult{IsValid: false})
	require.NoError(t, err)
	assert.False(t, paused)

	assert.Equal(t, false, conn.Get(sm.BarcodeValid))
	assert.Equal(t, true, conn.Get(sm.BarcodeInvalid))
}

func TestValidator_SendValidationResultPausesDispatcherOnPlcError(t *testing.T) {
	var paused bool
	profile := model.DeviceProfile{ID: "dev-1", SignalMap: testSignalMap("dev-1")}
	conn := plcfake.New()
	conn.Disconnect()
	p := pool.New(func(ctx context.Context, pr model.DeviceProfile) (plc.Connector, error) {
		return nil, assertDialErr
	})
	v := New(Config{}, p, events.NewHub(), func() { paused = true })

	err := v.SendValidationResult(context.Background(), "dev-1", "task-1", profile, ValidationResult{IsValid: false})
	require.Error(t, err)
	assert.True(t, paused)
}

var assertDialErr = gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "simulated dial failure", nil)

func TestValidator_RunForwardsBarcodeReceived(t *testing.T) {
	conn := plcfake.New()
	p := pool.New(func(ctx context.Context, pr model.DeviceProfile) (plc.Connector, error) {
		return conn, nil
	})
	hub := events.NewHub()
	v := New(Config{ValidationTimeout: time.Second, DeviceCount: 4}, p, hub, func() {})

	var received []events.BarcodeReceived
	hub.BarcodeReceived.Subscribe(func(ev events.BarcodeReceived) { received = append(received, ev) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx)

	sm := testSignalMap("dev-1")
	go func() { _ = v.SendBarcode(context.Background(), conn, sm, "dev-1", "task-1", "ABC") }()
	time.Sleep(20 * time.Millisecond)
	require.True(t, v.TryCompleteValidationTask("task-1", "dev-1"))

	time.Sleep(20 * time.Millisecond)
	require.Len(t, received, 1)
	assert.Equal(t, "dev-1", received[0].DeviceID)
	assert.Equal(t, "task-1", received[0].TaskID)
	assert.Equal(t, "ABC", received[0].Barcode)
}
