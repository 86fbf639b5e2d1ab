package events

import (
	"time"

	"github.com/honhatphi/shuttlegw/gwerrors"
	"github.com/honhatphi/shuttlegw/model"
)

// BarcodeReceived fires when an inbound strategy reads a non-empty,
// non-default barcode off a device (spec section 4.G, scenario S2).
type BarcodeReceived struct {
	DeviceID string
	TaskID   string
	Barcode  string
	Location model.Location
}

// TaskSucceeded fires exactly once per task, when its command strategy
// observes completion with no alarm.
type TaskSucceeded struct {
	DeviceID string
	TaskID   string
}

// FailureReason classifies why a TaskFailed event fired.
type FailureReason int

const (
	ReasonRunningFailure FailureReason = iota
	ReasonTimeout
	ReasonPollingException
	ReasonPlcConnectionFailed
	ReasonExecutionException
	ReasonValidationException
	ReasonDeviceNotRegistered
)

// TaskFailed fires exactly once per task, carrying the structured error
// detail per spec section 7.
type TaskFailed struct {
	DeviceID string
	TaskID   string
	Reason   FailureReason
	Detail   *gwerrors.Detail
}

// TaskCancelled fires when a device-initiated cancel_command is observed.
type TaskCancelled struct {
	DeviceID string
	TaskID   string
}

// DeviceStatusChanged fires whenever DeviceMonitor's compare-and-set observes
// an actual status change.
type DeviceStatusChanged struct {
	DeviceID string
	Previous model.DeviceStatus
	Current  model.DeviceStatus
	At       time.Time
}
