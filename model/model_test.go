package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirBlock_Encode(t *testing.T) {
	assert.False(t, Bottom.Encode())
	assert.True(t, Top.Encode())
}

func TestDirBlock_String(t *testing.T) {
	assert.Equal(t, "Bottom", Bottom.String())
	assert.Equal(t, "Top", Top.String())
}

func TestLocation_ManhattanDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Location
		want int
	}{
		{"identical", Location{Floor: 1, Rail: 2, Block: 3}, Location{Floor: 1, Rail: 2, Block: 3}, 0},
		{"floor_only", Location{Floor: 5}, Location{Floor: 1}, 4},
		{"all_axes", Location{Floor: 1, Rail: 14, Block: 5}, Location{Floor: 3, Rail: 10, Block: 9}, 2 + 4 + 4},
		{"negative_delta", Location{Floor: 0}, Location{Floor: -3}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.ManhattanDistance(tt.b))
			assert.Equal(t, tt.want, tt.b.ManhattanDistance(tt.a), "distance must be symmetric")
		})
	}
}

func TestTransportTask_Validate(t *testing.T) {
	loc := Location{Floor: 1, Rail: 1, Block: 1}

	tests := []struct {
		name    string
		build   func() *TransportTask
		wantErr error
	}{
		{
			name:    "empty_task_id",
			build:   func() *TransportTask { return NewTransportTask("", Inbound) },
			wantErr: errEmptyTaskID,
		},
		{
			name:    "inbound_ok",
			build:   func() *TransportTask { return NewTransportTask("t1", Inbound) },
			wantErr: nil,
		},
		{
			name:    "inbound_with_source_rejected",
			build:   func() *TransportTask { return NewTransportTask("t1", Inbound).WithSourceLocation(loc) },
			wantErr: errInboundHasLocation,
		},
		{
			name:    "outbound_missing_source",
			build:   func() *TransportTask { return NewTransportTask("t1", Outbound) },
			wantErr: errOutboundMissingSource,
		},
		{
			name:    "outbound_ok",
			build:   func() *TransportTask { return NewTransportTask("t1", Outbound).WithSourceLocation(loc) },
			wantErr: nil,
		},
		{
			name:    "transfer_missing_both",
			build:   func() *TransportTask { return NewTransportTask("t1", Transfer) },
			wantErr: errOutboundMissingSource,
		},
		{
			name:    "transfer_missing_target",
			build:   func() *TransportTask { return NewTransportTask("t1", Transfer).WithSourceLocation(loc) },
			wantErr: errTransferMissingTarget,
		},
		{
			name: "transfer_ok",
			build: func() *TransportTask {
				return NewTransportTask("t1", Transfer).WithSourceLocation(loc).WithTargetLocation(loc)
			},
			wantErr: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantErr, err)
			}
		})
	}
}

func TestTransportTask_Pinned(t *testing.T) {
	task := NewTransportTask("t1", Inbound)
	assert.False(t, task.Pinned())
	task.DeviceID = "dev-1"
	assert.True(t, task.Pinned())
}

func TestPriorityFor(t *testing.T) {
	pinned := NewTransportTask("t1", Inbound)
	pinned.DeviceID = "dev-1"
	assert.Equal(t, PriorityHigh, PriorityFor(pinned))

	unpinned := NewTransportTask("t2", Inbound)
	assert.Equal(t, PriorityNormal, PriorityFor(unpinned))
}

func TestDeviceProfile_Endpoint(t *testing.T) {
	profile := DeviceProfile{ProductionEndpoint: "prod:502", TestEndpoint: "test:502"}
	assert.Equal(t, "prod:502", profile.Endpoint("production"))
	assert.Equal(t, "test:502", profile.Endpoint("test"))
	assert.Equal(t, "test:502", profile.Endpoint(""))
	assert.Equal(t, "test:502", profile.Endpoint("staging"))
}

func TestDeviceStatus_String(t *testing.T) {
	tests := []struct {
		status DeviceStatus
		want   string
	}{
		{Offline, "Offline"},
		{Idle, "Idle"},
		{Busy, "Busy"},
		{Error, "Error"},
		{Charging, "Charging"},
		{DeviceStatus(99), "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}
