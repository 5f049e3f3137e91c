package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"fcbridge/pkg/engine"
	"fcbridge/pkg/protocol"
	"fcbridge/pkg/variant"
)

var (
	ErrNotConnected     = errors.New("driver not connected")
	ErrAlreadyConnected = errors.New("driver already connected")
	ErrStopped          = errors.New("session stopped by peer")
)

// DefaultReceiveBuffer comfortably exceeds every inbound packet, so an
// oversized datagram is seen whole and rejected for its trailing bytes.
const DefaultReceiveBuffer = 1024

// Conn is the datagram channel to the physics host.
type Conn interface {
	ReceiveInto(buf []byte) (int, error)
	Send(b []byte) error
}

// Firmware is the embedded flight-control program under test.
type Firmware interface {
	// Configure is called once, before any tick, with the host's vehicle
	// constants and the clock the firmware must use for time.
	Configure(vehicle protocol.InitPacket, clock TimeSource)
	// SchedulerTick runs one scheduling pass and returns.
	SchedulerTick()
	// DisplayBuffer is the current OSD grid.
	DisplayBuffer() *protocol.OSDBuffer
}

// Publisher receives a frame after every completed step.
type Publisher interface {
	Publish(engine.Frame) bool
}

// Driver owns the channel and the clock for one session. It is not safe for
// concurrent use; Connect and Step are called from a single goroutine.
type Driver struct {
	conn      Conn
	fw        Firmware
	clock     Clock
	buf       []byte
	osd       bool
	connected bool
	stopped   bool

	log     *slog.Logger
	pub     Publisher
	now     func() time.Time
	started time.Time
	seq     uint64
	meters  *instruments
	mp      metric.MeterProvider
}

type Option func(*Driver)

// WithOSD selects StateOsdUpdatePacket (true, the default) or
// StateUpdatePacket replies.
func WithOSD(enabled bool) Option {
	return func(d *Driver) {
		d.osd = enabled
	}
}

func WithReceiveBuffer(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.buf = make([]byte, n)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(d *Driver) {
		d.pub = p
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Driver) {
		d.mp = mp
	}
}

// withNow replaces the wall clock used for frame timestamps.
func withNow(fn func() time.Time) Option {
	return func(d *Driver) {
		d.now = fn
	}
}

func NewDriver(conn Conn, fw Firmware, opts ...Option) *Driver {
	d := &Driver{
		conn: conn,
		fw:   fw,
		buf:  make([]byte, DefaultReceiveBuffer),
		osd:  true,
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.meters = newInstruments(d.mp)
	return d
}

// Clock exposes the session clock as a read-only time source.
func (d *Driver) Clock() TimeSource {
	return &d.clock
}

// Pending is the host time in micros not yet released as ticks.
func (d *Driver) Pending() int64 {
	return d.clock.Pending()
}

func (d *Driver) Connected() bool {
	return d.connected
}

// Connect waits for the InitPacket, configures the firmware, resets the clock
// and acknowledges with Bool(true). A malformed InitPacket is returned as an
// error; the session cannot continue.
func (d *Driver) Connect() error {
	if d.connected {
		return ErrAlreadyConnected
	}
	ctx := context.Background()

	payload, err := d.receive(ctx)
	if err != nil {
		return fmt.Errorf("receive init packet: %w", err)
	}

	var vehicle protocol.InitPacket
	if err := protocol.DecodeExact(payload, &vehicle); err != nil {
		d.decodeFailed(ctx, protocol.KindInit, payload, err)
		return fmt.Errorf("decode init packet: %w", err)
	}

	d.fw.Configure(vehicle, &d.clock)
	d.clock.Reset()

	if err := d.send(ctx, variant.EncodeBool(true)); err != nil {
		return fmt.Errorf("send ack: %w", err)
	}

	d.connected = true
	d.started = d.now()
	d.log.Info("connected to physics host",
		"quad_mass", vehicle.QuadMass,
		"quad_vbat", vehicle.QuadVbat,
		"motor_kv", vehicle.MotorKV,
		"osd", d.osd,
	)
	return nil
}

// Step runs one receive, tick, reply cycle. It returns false without error
// when the host sent the stop token; the caller must not call Step again.
func (d *Driver) Step() (bool, error) {
	if !d.connected {
		return false, ErrNotConnected
	}
	if d.stopped {
		return false, ErrStopped
	}
	ctx := context.Background()

	payload, err := d.receive(ctx)
	if err != nil {
		return false, fmt.Errorf("receive state packet: %w", err)
	}
	if protocol.IsStop(payload) {
		d.stopped = true
		d.log.Info("stop token received",
			"steps", d.seq,
			"virtual_us", d.clock.Micros(),
			"pending_us", d.clock.Pending(),
		)
		return false, nil
	}

	var state protocol.StatePacket
	if err := protocol.DecodeExact(payload, &state); err != nil {
		d.decodeFailed(ctx, protocol.KindState, payload, err)
		return false, fmt.Errorf("decode state packet: %w", err)
	}

	micros, err := DeltaMicros(state.Delta)
	if err != nil {
		d.decodeFailed(ctx, protocol.KindState, payload, err)
		return false, fmt.Errorf("state packet: %w", err)
	}
	d.clock.Add(micros)
	ticks := d.clock.Drain(d.fw.SchedulerTick)

	var (
		reply []byte
		osd   *protocol.OSDBuffer
	)
	if d.osd {
		upd := protocol.StateOsdUpdateFromState(&state, d.fw.DisplayBuffer())
		osd = &upd.OSD
		reply = protocol.Encode(&upd)
	} else {
		upd := protocol.StateUpdateFromState(&state)
		reply = protocol.Encode(&upd)
	}
	if err := d.send(ctx, reply); err != nil {
		return false, fmt.Errorf("send update: %w", err)
	}

	d.seq++
	add(ctx, d.meters.steps, 1)
	add(ctx, d.meters.ticks, int64(ticks))

	if d.pub != nil {
		now := d.now()
		d.pub.Publish(engine.Frame{
			Seq:           d.seq,
			Timestamp:     now,
			WallElapsed:   now.Sub(d.started),
			VirtualMicros: d.clock.Micros(),
			PendingMicros: d.clock.Pending(),
			Ticks:         ticks,
			State:         state,
			OSD:           osd,
		})
	}
	return true, nil
}

func (d *Driver) receive(ctx context.Context) ([]byte, error) {
	n, err := d.conn.ReceiveInto(d.buf)
	if err != nil {
		return nil, err
	}
	add(ctx, d.meters.bytesIn, int64(n))
	return d.buf[:n], nil
}

func (d *Driver) send(ctx context.Context, b []byte) error {
	if err := d.conn.Send(b); err != nil {
		return err
	}
	add(ctx, d.meters.bytesOut, int64(len(b)))
	return nil
}

func (d *Driver) decodeFailed(ctx context.Context, kind protocol.Kind, payload []byte, err error) {
	add(ctx, d.meters.decodeFailures, 1, attribute.String("packet", kind.String()))
	d.log.Error("packet decode failed",
		"packet", kind.String(),
		"bytes", len(payload),
		"got", protocol.Identify(payload).String(),
		"hex", protocol.HexDump(payload),
		"error", err,
	)
}
