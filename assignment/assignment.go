// Package assignment implements AssignmentStrategy (spec section 4.E):
// picking one eligible idle device for a task, pinned-or-hybrid.
package assignment

import (
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/honhatphi/shuttlegw/model"
)

// roundRobinBound is the wraparound point for the shared fairness counter
// (spec section 4.E step 3: "counter wraps at a bound, e.g. 10^6").
const roundRobinBound = 1_000_000

// ReferenceLocations maps a command type without a natural source location
// (Inbound) to a fixed reference point used for nearest-device selection.
type ReferenceLocations struct {
	Inbound model.Location
}

// Strategy picks an eligible device for a task from a snapshot of idle
// devices. It is safe for concurrent use; its only mutable state is the
// shared round-robin counter.
type Strategy struct {
	refs    ReferenceLocations
	counter uint64
}

// New constructs a Strategy using refs for command types lacking a natural
// source location.
func New(refs ReferenceLocations) *Strategy {
	return &Strategy{refs: refs}
}

// Assigning reports, for a device id, whether it is currently in the
// process of being assigned a task (i.e. chosen by a dispatcher pass whose
// assignment-map insert has not yet committed). A nil Assigning treats no
// device as mid-assignment; the dispatcher passes nil.
type Assigning func(deviceID string) bool

// Pick selects a device profile for task from idle, given the current
// assignment map (deviceID -> taskID) and an Assigning predicate for
// devices mid-assignment. It returns false if no eligible device exists.
func (s *Strategy) Pick(task *model.TransportTask, idle []model.DeviceInfo, assignedTo map[string]string, assigning Assigning) (model.DeviceProfile, bool) {
	if task.Pinned() {
		for _, d := range idle {
			if d.Profile.ID != task.DeviceID {
				continue
			}
			if _, busy := assignedTo[d.Profile.ID]; busy {
				return model.DeviceProfile{}, false
			}
			if assigning != nil && assigning(d.Profile.ID) {
				return model.DeviceProfile{}, false
			}
			return d.Profile, true
		}
		return model.DeviceProfile{}, false
	}

	ref := s.referenceLocation(task)

	eligible := make([]model.DeviceInfo, 0, len(idle))
	for _, d := range idle {
		if _, busy := assignedTo[d.Profile.ID]; busy {
			continue
		}
		if assigning != nil && assigning(d.Profile.ID) {
			continue
		}
		eligible = append(eligible, d)
	}
	if len(eligible) == 0 {
		return model.DeviceProfile{}, false
	}

	slices.SortStableFunc(eligible, func(a, b model.DeviceInfo) int {
		return a.Location.ManhattanDistance(ref) - b.Location.ManhattanDistance(ref)
	})

	idx := (atomic.AddUint64(&s.counter, 1) - 1) % roundRobinBound % uint64(len(eligible))
	return eligible[idx].Profile, true
}

func (s *Strategy) referenceLocation(task *model.TransportTask) model.Location {
	switch task.CommandType {
	case model.Outbound, model.Transfer:
		return task.SourceLocation
	default:
		return s.refs.Inbound
	}
}

// AssignedLookup is a helper for building the assignedTo map from an
// external assignment map type under its own lock; dispatcher supplies a
// snapshot rather than this package reaching into dispatcher internals.
type AssignedLookup struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewAssignedLookup constructs an empty AssignedLookup.
func NewAssignedLookup() *AssignedLookup {
	return &AssignedLookup{data: make(map[string]string)}
}

// Snapshot returns a copy of the current device->task mapping.
func (a *AssignedLookup) Snapshot() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.data))
	for k, v := range a.data {
		out[k] = v
	}
	return out
}

// Set records deviceID as assigned to taskID.
func (a *AssignedLookup) Set(deviceID, taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[deviceID] = taskID
}

// Delete removes deviceID's assignment if it matches taskID.
func (a *AssignedLookup) Delete(deviceID, taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data[deviceID] != taskID {
		return false
	}
	delete(a.data, deviceID)
	return true
}

// Get returns the task currently assigned to deviceID, if any.
func (a *AssignedLookup) Get(deviceID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.data[deviceID]
	return t, ok
}
