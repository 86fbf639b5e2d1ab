package command

import (
	"context"
	"sync"

	"github.com/honhatphi/shuttlegw/barcode"
	"github.com/honhatphi/shuttlegw/events"
	"github.com/honhatphi/shuttlegw/gwerrors"
	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
)

// Inbound implements the Inbound command strategy (spec section 4.G).
type Inbound struct {
	Validator *barcode.Validator
}

func (s *Inbound) Trigger(ctx context.Context, conn plc.Connector, profile model.DeviceProfile, task *model.TransportTask) error {
	sm := profile.SignalMap

	var errCmd, errStart error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errCmd = conn.WriteBool(ctx, sm.InboundCommand, true) }()
	go func() { defer wg.Done(); errStart = conn.WriteBool(ctx, sm.StartProcessCommand, true) }()
	wg.Wait()
	if errCmd != nil {
		return errCmd
	}
	if errStart != nil {
		return errStart
	}

	return writeAll(ctx,
		func() error { return conn.WriteInt16(ctx, sm.GateNumber, int16(task.GateNumber)) },
		func() error { return conn.WriteBool(ctx, sm.InDirBlock, task.InDirBlock.Encode()) },
	)
}

// Poll weaves a barcode read into each tick before the completion check:
// the first non-empty, non-default barcode observed is sent to the
// validator exactly once per task, in the background, so the poll loop
// keeps ticking while validation is in flight (spec section 4.G).
func (s *Inbound) Poll(ctx context.Context, params PollParams) error {
	sm := params.Profile.SignalMap
	var sent bool
	params.PerTick = func(ctx context.Context) {
		if sent {
			return
		}
		code := s.Validator.ReadBarcode(ctx, params.Conn, sm)
		if code == "" || code == barcode.DefaultBarcode {
			return
		}
		sent = true
		deviceID, taskID := params.DeviceID, params.Task.TaskID
		conn := params.Conn
		emit := params.Emit
		go func() {
			if err := s.Validator.SendBarcode(ctx, conn, sm, deviceID, taskID, code); err != nil {
				emit.Failed(deviceID, taskID, events.ReasonValidationException,
					gwerrors.NewDetail(gwerrors.CodeValidationException, "barcode validation failed", err))
			}
		}()
	}
	return runPoll(ctx, sm.InboundComplete, params)
}
