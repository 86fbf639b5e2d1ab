package events

// Hub aggregates the five event buses the gateway exposes externally, so
// components can be constructed with a single reference instead of five.
type Hub struct {
	BarcodeReceived     *Bus[BarcodeReceived]
	TaskSucceeded       *Bus[TaskSucceeded]
	TaskFailed          *Bus[TaskFailed]
	TaskCancelled       *Bus[TaskCancelled]
	DeviceStatusChanged *Bus[DeviceStatusChanged]
}

// NewHub constructs a Hub with all buses initialized.
func NewHub() *Hub {
	return &Hub{
		BarcodeReceived:     NewBus[BarcodeReceived](),
		TaskSucceeded:       NewBus[TaskSucceeded](),
		TaskFailed:          NewBus[TaskFailed](),
		TaskCancelled:       NewBus[TaskCancelled](),
		DeviceStatusChanged: NewBus[DeviceStatusChanged](),
	}
}
