// Package barcode implements BarcodeValidator (spec section 4.I): an
// asynchronous request/response channel pairing a device-initiated barcode
// read with an external validation verdict, within a timeout, writing the
// result back to PLC.
//
// The shared bounded channel and its "receive one, apply timeout" shape are
// a direct generalization of longpoll.Channel's partial/max-size receive
// loop (teacher package github.com/joeycumines/go-longpoll), used here as a
// single-purpose specialization rather than the teacher's general-purpose
// long-poll primitive.
package barcode

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/honhatphi/shuttlegw/events"
	"github.com/honhatphi/shuttlegw/gwerrors"
	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
	"github.com/honhatphi/shuttlegw/plc/pool"
	"github.com/honhatphi/shuttlegw/throttle"
)

// Config controls the validator's timeout and channel sizing.
type Config struct {
	ValidationTimeout time.Duration
	MaxBarcodeLength  int
	DeviceCount       int // channel capacity; minimum 1
}

// ApplyDefaults fills zero-valued fields with their spec-mandated defaults.
func (c *Config) ApplyDefaults() {
	if c.ValidationTimeout == 0 {
		c.ValidationTimeout = 2 * time.Minute
	}
	if c.MaxBarcodeLength == 0 {
		c.MaxBarcodeLength = 10
	}
	if c.DeviceCount < 1 {
		c.DeviceCount = 1
	}
}

// DefaultBarcode is the all-zero placeholder a freshly reset device reports;
// it is never forwarded to the validator (spec section 4.G).
const DefaultBarcode = "0000000000"

type pendingEntry struct {
	deviceID string
	done     chan error // nil on success
	once     sync.Once
}

func (p *pendingEntry) complete(err error) {
	p.once.Do(func() { p.done <- err })
}

type request struct {
	deviceID string
	taskID   string
	barcode  string
	location model.Location
}

// Validator mediates barcode validation requests/responses.
type Validator struct {
	cfg  Config
	pool *pool.Pool
	hub  *events.Hub

	pauseDispatcher func()

	mu      sync.Mutex
	pending map[string]*pendingEntry

	requests chan request
}

// New constructs a Validator. Call Run in a goroutine to start draining
// published requests into BarcodeReceived events.
func New(cfg Config, p *pool.Pool, hub *events.Hub, pauseDispatcher func()) *Validator {
	cfg.ApplyDefaults()
	return &Validator{
		cfg:             cfg,
		pool:            p,
		hub:             hub,
		pauseDispatcher: pauseDispatcher,
		pending:         make(map[string]*pendingEntry),
		requests:        make(chan request, cfg.DeviceCount),
	}
}

// Run drains published barcode requests, re-emitting BarcodeReceived to the
// outside world, until ctx is done.
func (v *Validator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-v.requests:
			v.hub.BarcodeReceived.Publish(events.BarcodeReceived{
				DeviceID: req.deviceID,
				TaskID:   req.taskID,
				Barcode:  req.barcode,
				Location: req.location,
			})
		}
	}
}

// ReadBarcode reads the ten barcode character words in parallel, assembling
// the prefix of single-character results; it stops at the first empty or
// multi-character word, and returns empty on any read error.
func (v *Validator) ReadBarcode(ctx context.Context, conn plc.Connector, sm model.SignalMap) string {
	chars := make([]string, len(sm.BarcodeChars))
	errs := make([]error, len(sm.BarcodeChars))
	var wg sync.WaitGroup
	wg.Add(len(sm.BarcodeChars))
	for i, addr := range sm.BarcodeChars {
		i, addr := i, addr
		go func() {
			defer wg.Done()
			chars[i], errs[i] = conn.ReadString(ctx, addr)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return ""
		}
	}

	var b []byte
	for i := range chars {
		if len(chars[i]) != 1 {
			break
		}
		b = append(b, chars[i][0])
	}
	return string(b)
}

// SendBarcode reads deviceID's current location off conn, registers a
// pending validation entry for taskID, publishes a barcode request carrying
// that location onto the shared bounded channel (retrying up to 3 times
// with a 100ms backoff if full), and blocks until TryCompleteValidationTask
// resolves it or the configured validation timeout elapses. A location read
// failure is non-fatal: the request still carries, with a zero-value
// Location.
func (v *Validator) SendBarcode(ctx context.Context, conn plc.Connector, sm model.SignalMap, deviceID, taskID, barcode string) error {
	loc, _ := v.readLocation(ctx, conn, sm)

	entry := &pendingEntry{deviceID: deviceID, done: make(chan error, 1)}
	v.mu.Lock()
	v.pending[taskID] = entry
	v.mu.Unlock()

	publish := func() (bool, error) {
		select {
		case v.requests <- request{deviceID: deviceID, taskID: taskID, barcode: barcode, location: loc}:
			return true, nil
		default:
			return false, nil
		}
	}
	if err := throttle.Retry(ctx, 3, 100*time.Millisecond, publish); err != nil {
		v.mu.Lock()
		delete(v.pending, taskID)
		v.mu.Unlock()
		return gwerrors.NewDetail(gwerrors.CodeExecutionException, "barcode channel full", err)
	}

	timer := time.NewTimer(v.cfg.ValidationTimeout)
	defer timer.Stop()
	select {
	case err := <-entry.done:
		return err
	case <-timer.C:
		v.mu.Lock()
		delete(v.pending, taskID)
		v.mu.Unlock()
		return gwerrors.NewDetail(gwerrors.CodeTimeout, "barcode validation timed out", nil)
	case <-ctx.Done():
		v.mu.Lock()
		delete(v.pending, taskID)
		v.mu.Unlock()
		return ctx.Err()
	}
}

func (v *Validator) readLocation(ctx context.Context, conn plc.Connector, sm model.SignalMap) (model.Location, error) {
	var floor, rail, block int16
	var ferr, rerr, berr error
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); floor, ferr = conn.ReadInt16(ctx, sm.ActualFloor) }()
	go func() { defer wg.Done(); rail, rerr = conn.ReadInt16(ctx, sm.ActualRail) }()
	go func() { defer wg.Done(); block, berr = conn.ReadInt16(ctx, sm.ActualBlock) }()
	wg.Wait()
	if ferr != nil {
		return model.Location{}, ferr
	}
	if rerr != nil {
		return model.Location{}, rerr
	}
	if berr != nil {
		return model.Location{}, berr
	}
	return model.Location{Floor: floor, Rail: rail, Block: block}, nil
}

// TryCompleteValidationTask resolves the pending entry for taskID if
// deviceID matches, returning true. A device mismatch fails the entry with
// MismatchedDevice (and still returns false, per spec — the caller's own
// request is not the one being completed). A missing entry returns false.
func (v *Validator) TryCompleteValidationTask(taskID, deviceID string) bool {
	v.mu.Lock()
	entry, ok := v.pending[taskID]
	if ok {
		delete(v.pending, taskID)
	}
	v.mu.Unlock()
	if !ok {
		return false
	}
	if entry.deviceID != deviceID {
		entry.complete(gwerrors.NewDetail(gwerrors.CodeMismatchedDevice, "barcode validation device mismatch", nil))
		return false
	}
	entry.complete(nil)
	return true
}

// ValidationResult carries the verdict and routing data passed to
// SendValidationResult (spec section 4.I / 6).
type ValidationResult struct {
	IsValid   bool
	Target    model.Location
	Direction model.DirBlock
	Gate      uint16
}

// SendValidationResult completes the pending validation task, then writes
// the verdict to PLC: valid writes barcode_valid=true/barcode_invalid=false
// plus target/gate/direction; invalid writes the inverse boolean pair. Any
// PLC error pauses the dispatcher and returns a Failed-worthy error.
func (v *Validator) SendValidationResult(ctx context.Context, deviceID, taskID string, profile model.DeviceProfile, result ValidationResult) error {
	v.TryCompleteValidationTask(taskID, deviceID)

	conn, err := v.pool.Get(ctx, profile)
	if err != nil {
		v.pauseDispatcher()
		return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "failed to connect for validation result", err)
	}

	sm := profile.SignalMap
	if result.IsValid {
		writes := []func() error{
			func() error { return conn.WriteBool(ctx, sm.BarcodeValid, true) },
			func() error { return conn.WriteBool(ctx, sm.BarcodeInvalid, false) },
			func() error { return conn.WriteInt16(ctx, sm.TargetFloor, result.Target.Floor) },
			func() error { return conn.WriteInt16(ctx, sm.TargetRail, result.Target.Rail) },
			func() error { return conn.WriteInt16(ctx, sm.TargetBlock, result.Target.Block) },
			func() error { return conn.WriteBool(ctx, sm.InDirBlock, result.Direction.Encode()) },
			func() error { return conn.WriteInt16(ctx, sm.GateNumber, int16(result.Gate)) },
		}
		for _, w := range writes {
			if err := w(); err != nil {
				v.pauseDispatcher()
				return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "validation result write failed", err)
			}
		}
		return nil
	}

	if err := conn.WriteBool(ctx, sm.BarcodeValid, false); err != nil {
		v.pauseDispatcher()
		return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "validation result write failed", err)
	}
	if err := conn.WriteBool(ctx, sm.BarcodeInvalid, true); err != nil {
		v.pauseDispatcher()
		return gwerrors.NewDetail(gwerrors.CodePlcConnectionFailed, "validation result write failed", err)
	}
	return nil
}

// ErrInvalidResult is returned by the façade when is_valid=true is sent
// without a defined target/direction/gate (spec section 6).
var ErrInvalidResult = errors.New("barcode: is_valid=true requires target, direction and gate_number >= 0")
