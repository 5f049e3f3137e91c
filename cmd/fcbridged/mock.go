package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fcbridge/pkg/config"
	"fcbridge/pkg/logging"
	"fcbridge/pkg/protocol"
	"fcbridge/pkg/sim"
	"fcbridge/pkg/transport"
	"fcbridge/pkg/variant"
)

const (
	mockRollAmplitudeRad  = 35.0 * math.Pi / 180.0
	mockPitchAmplitudeRad = 25.0 * math.Pi / 180.0
	mockYawAmplitudeRad   = 40.0 * math.Pi / 180.0

	mockRollFreqHz  = 0.23
	mockPitchFreqHz = 0.31
	mockYawFreqHz   = 0.17

	mockRollPhaseRad  = 0.0
	mockPitchPhaseRad = math.Pi / 3.0
	mockYawPhaseRad   = 2.0 * math.Pi / 3.0

	mockHoverHeight = 1.0
	mockBobAmp      = 0.25
	mockBobFreqHz   = 0.1
)

var errAckRefused = errors.New("bridge refused the init packet")

type mockFlags struct {
	steps   int
	delta   float32
	rateHz  int
	timeout time.Duration
}

func newMockCmd(root *rootOptions) *cobra.Command {
	var f mockFlags
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Play the physics host against a running bridge",
		Long: `mock binds the bridge's peer address and sends to its listen address:
one InitPacket, then a StatePacket per step with an oscillating attitude,
reading every reply, and finally STOP.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			if fl.Changed("steps") {
				cfg.Mock.Steps = f.steps
			}
			if fl.Changed("delta") {
				cfg.Mock.Delta = f.delta
			}
			if fl.Changed("rate") {
				cfg.Mock.RateHz = f.rateHz
			}
			if err := cfg.Validate(); err != nil {
				return usageError{err}
			}
			return runMock(cmd.Context(), cfg, f.timeout, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&f.steps, "steps", 0, "number of StatePackets to send")
	fl.Float32Var(&f.delta, "delta", 0, "simulated seconds per StatePacket")
	fl.IntVar(&f.rateHz, "rate", 0, "pace StatePackets at this rate (0 sends back to back)")
	fl.DurationVar(&f.timeout, "timeout", 5*time.Second, "give up when the bridge is silent this long")
	return cmd
}

func runMock(ctx context.Context, cfg config.Config, timeout time.Duration, stdout io.Writer, stderr io.Writer) error {
	log := logging.New(stderr, cfg.Log.Level)

	// The host side mirrors the bridge's addresses.
	ch, err := transport.Open(cfg.Bridge.PeerAddr, cfg.Bridge.ListenAddr,
		transport.WithReadTimeout(timeout),
	)
	if err != nil {
		return err
	}
	defer ch.Close()
	stopClose := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stopClose()

	report, err := runMockHost(ctx, ch, cfg.Mock, log)
	if err != nil {
		return err
	}
	printReport(stdout, report)
	return nil
}

// mockReport summarises one mock session.
type mockReport struct {
	Steps      int
	OSDReplies int
	Virtual    time.Duration
	Elapsed    time.Duration
	LastUpdate protocol.StateUpdatePacket
	LastOSD    *protocol.OSDBuffer
}

// runMockHost plays one full host session over conn. Cancelling ctx cuts the
// session short, but STOP is still sent.
func runMockHost(ctx context.Context, conn sim.Conn, mc config.MockConfig, log *slog.Logger) (mockReport, error) {
	var report mockReport
	buf := make([]byte, sim.DefaultReceiveBuffer)
	stepMicros, err := sim.DeltaMicros(mc.Delta)
	if err != nil {
		return report, fmt.Errorf("mock delta: %w", err)
	}

	vehicle := mockInitPacket()
	if err := conn.Send(protocol.Encode(&vehicle)); err != nil {
		return report, fmt.Errorf("send init packet: %w", err)
	}
	n, err := conn.ReceiveInto(buf)
	if err != nil {
		return report, fmt.Errorf("receive ack: %w", err)
	}
	ack, err := variant.DecodeBool(buf[:n])
	if err != nil {
		return report, fmt.Errorf("decode ack: %w", err)
	}
	if !ack {
		return report, errAckRefused
	}
	log.Info("bridge acknowledged", "steps", mc.Steps, "delta", mc.Delta, "rate_hz", mc.RateHz)

	var tick <-chan time.Time
	if mc.RateHz > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(mc.RateHz))
		defer ticker.Stop()
		tick = ticker.C
	}

	start := time.Now()
	var virtualMicros int64
	for i := 0; i < mc.Steps; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
			case <-tick:
			}
		}
		if ctx.Err() != nil {
			break
		}

		t := float64(virtualMicros) / 1e6
		state := mockState(t, mc.Delta)
		if err := conn.Send(protocol.Encode(&state)); err != nil {
			return report, fmt.Errorf("step %d: send state: %w", i+1, err)
		}
		n, err := conn.ReceiveInto(buf)
		if err != nil {
			return report, fmt.Errorf("step %d: receive update: %w", i+1, err)
		}
		if err := report.record(buf[:n]); err != nil {
			return report, fmt.Errorf("step %d: %w", i+1, err)
		}
		virtualMicros += stepMicros
	}

	if err := conn.Send(protocol.StopToken); err != nil {
		return report, fmt.Errorf("send stop: %w", err)
	}
	report.Virtual = time.Duration(virtualMicros) * time.Microsecond
	report.Elapsed = time.Since(start)
	log.Info("sent stop", "steps", report.Steps, "elapsed", report.Elapsed)
	return report, nil
}

func (r *mockReport) record(payload []byte) error {
	kind, pkt, err := protocol.ParsePacket(payload)
	if err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	switch p := pkt.(type) {
	case protocol.StateUpdatePacket:
		r.LastUpdate = p
	case protocol.StateOsdUpdatePacket:
		r.LastUpdate = protocol.StateUpdatePacket{
			LinearVelocity:  p.LinearVelocity,
			AngularVelocity: p.AngularVelocity,
		}
		osd := p.OSD
		r.LastOSD = &osd
		r.OSDReplies++
	default:
		return fmt.Errorf("unexpected %s reply", kind)
	}
	r.Steps++
	return nil
}

func printReport(w io.Writer, r mockReport) {
	fmt.Fprintf(w, "steps: %d, virtual: %s, elapsed: %s, osd replies: %d\n",
		r.Steps, r.Virtual, r.Elapsed.Round(time.Millisecond), r.OSDReplies)
	if r.LastOSD == nil {
		return
	}
	for _, line := range r.LastOSD.Lines() {
		if strings.TrimSpace(line) != "" {
			fmt.Fprintln(w, "  |"+line+"|")
		}
	}
}

// mockInitPacket is a small symmetric quad.
func mockInitPacket() protocol.InitPacket {
	return protocol.InitPacket{
		MotorKV:           1000,
		MotorR:            1,
		MotorI0:           0.1,
		PropMaxRPM:        10000,
		PropAFactor:       0.1,
		PropTorqueFactor:  1,
		PropInertia:       1e-6,
		PropThrustFactors: [3]float32{1, 1, 1},
		FrameDragArea:     variant.Vec3{1, 1, 1},
		FrameDragConstant: 1,
		QuadMass:          0.5,
		QuadInvInertia:    variant.Vec3{1, 1, 1},
		QuadVbat:          12,
		QuadMotorPos: [4]variant.Vec3{
			{1, 0, 1},
			{1, 0, -1},
			{-1, 0, 1},
			{-1, 0, -1},
		},
	}
}

func mockEulerAngles(t float64) (roll float64, pitch float64, yaw float64) {
	roll = mockRollAmplitudeRad * math.Sin(2.0*math.Pi*mockRollFreqHz*t+mockRollPhaseRad)
	pitch = mockPitchAmplitudeRad * math.Sin(2.0*math.Pi*mockPitchFreqHz*t+mockPitchPhaseRad)
	yaw = mockYawAmplitudeRad * math.Sin(2.0*math.Pi*mockYawFreqHz*t+mockYawPhaseRad)
	return
}

func mockEulerRates(t float64) (roll float64, pitch float64, yaw float64) {
	roll = mockRollAmplitudeRad * 2.0 * math.Pi * mockRollFreqHz * math.Cos(2.0*math.Pi*mockRollFreqHz*t+mockRollPhaseRad)
	pitch = mockPitchAmplitudeRad * 2.0 * math.Pi * mockPitchFreqHz * math.Cos(2.0*math.Pi*mockPitchFreqHz*t+mockPitchPhaseRad)
	yaw = mockYawAmplitudeRad * 2.0 * math.Pi * mockYawFreqHz * math.Cos(2.0*math.Pi*mockYawFreqHz*t+mockYawPhaseRad)
	return
}

// mockBasis is the ZYX intrinsic rotation (yaw -> pitch -> roll) as a
// row-major matrix.
func mockBasis(roll float64, pitch float64, yaw float64) variant.Basis {
	cr, sr := math.Cos(roll), math.Sin(roll)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	return variant.Basis{
		{float32(cy * cp), float32(cy*sp*sr - sy*cr), float32(cy*sp*cr + sy*sr)},
		{float32(sy * cp), float32(sy*sp*sr + cy*cr), float32(sy*sp*cr - cy*sr)},
		{float32(-sp), float32(cp * sr), float32(cp * cr)},
	}
}

// mockState is the host state at t seconds: a slow vertical bob with the
// attitude oscillating about all three axes and sticks following it.
func mockState(t float64, delta float32) protocol.StatePacket {
	roll, pitch, yaw := mockEulerAngles(t)
	rollRate, pitchRate, yawRate := mockEulerRates(t)
	w := 2.0 * math.Pi * mockBobFreqHz

	var rc [protocol.RCChannels]float32
	rc[0] = float32(roll / mockRollAmplitudeRad)
	rc[1] = float32(pitch / mockPitchAmplitudeRad)
	rc[2] = 0.5
	rc[3] = float32(yaw / mockYawAmplitudeRad)
	rc[4] = 1 // arm switch

	return protocol.StatePacket{
		Delta:           delta,
		Position:        variant.Vec3{0, float32(mockHoverHeight + mockBobAmp*math.Sin(w*t)), 0},
		Rotation:        mockBasis(roll, pitch, yaw),
		LinearVelocity:  variant.Vec3{0, float32(mockBobAmp * w * math.Cos(w*t)), 0},
		AngularVelocity: variant.Vec3{float32(rollRate), float32(yawRate), float32(pitchRate)},
		RCData:          rc,
	}
}
