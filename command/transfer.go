package command

import (
	"context"

	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
)

// Transfer implements the Transfer command strategy (spec section 4.G).
type Transfer struct{}

func (s *Transfer) Trigger(ctx context.Context, conn plc.Connector, profile model.DeviceProfile, task *model.TransportTask) error {
	sm := profile.SignalMap
	return writeAll(ctx,
		func() error { return conn.WriteBool(ctx, sm.TransferCommand, true) },
		func() error { return conn.WriteBool(ctx, sm.StartProcessCommand, true) },
		func() error { return conn.WriteInt16(ctx, sm.SourceFloor, task.SourceLocation.Floor) },
		func() error { return conn.WriteInt16(ctx, sm.SourceRail, task.SourceLocation.Rail) },
		func() error { return conn.WriteInt16(ctx, sm.SourceBlock, task.SourceLocation.Block) },
		func() error { return conn.WriteInt16(ctx, sm.TargetFloor, task.TargetLocation.Floor) },
		func() error { return conn.WriteInt16(ctx, sm.TargetRail, task.TargetLocation.Rail) },
		func() error { return conn.WriteInt16(ctx, sm.TargetBlock, task.TargetLocation.Block) },
		func() error { return conn.WriteInt16(ctx, sm.GateNumber, int16(task.GateNumber)) },
		func() error { return conn.WriteBool(ctx, sm.InDirBlock, task.InDirBlock.Encode()) },
		func() error { return conn.WriteBool(ctx, sm.OutDirBlock, task.OutDirBlock.Encode()) },
	)
}

func (s *Transfer) Poll(ctx context.Context, params PollParams) error {
	return runPoll(ctx, params.Profile.SignalMap.TransferComplete, params)
}
