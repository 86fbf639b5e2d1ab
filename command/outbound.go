package command

import (
	"context"

	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
)

// Outbound implements the Outbound command strategy (spec section 4.G).
type Outbound struct{}

func (s *Outbound) Trigger(ctx context.Context, conn plc.Connector, profile model.DeviceProfile, task *model.TransportTask) error {
	sm := profile.SignalMap
	return writeAll(ctx,
		func() error { return conn.WriteBool(ctx, sm.OutboundCommand, true) },
		func() error { return conn.WriteBool(ctx, sm.StartProcessCommand, true) },
		func() error { return conn.WriteInt16(ctx, sm.SourceFloor, task.SourceLocation.Floor) },
		func() error { return conn.WriteInt16(ctx, sm.SourceRail, task.SourceLocation.Rail) },
		func() error { return conn.WriteInt16(ctx, sm.SourceBlock, task.SourceLocation.Block) },
		func() error { return conn.WriteInt16(ctx, sm.GateNumber, int16(task.GateNumber)) },
		func() error { return conn.WriteBool(ctx, sm.OutDirBlock, task.OutDirBlock.Encode()) },
	)
}

func (s *Outbound) Poll(ctx context.Context, params PollParams) error {
	return runPoll(ctx, params.Profile.SignalMap.OutboundComplete, params)
}
