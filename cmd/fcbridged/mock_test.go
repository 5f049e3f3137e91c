package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fcbridge/pkg/config"
	"fcbridge/pkg/firmware"
	"fcbridge/pkg/protocol"
	"fcbridge/pkg/sim"
	"fcbridge/pkg/variant"
)

// pipeConn is one end of an in-memory datagram link.
type pipeConn struct {
	in  <-chan []byte
	out chan<- []byte
}

func newPipe() (*pipeConn, *pipeConn) {
	a := make(chan []byte, 4)
	b := make(chan []byte, 4)
	return &pipeConn{in: a, out: b}, &pipeConn{in: b, out: a}
}

func (p *pipeConn) ReceiveInto(buf []byte) (int, error) {
	select {
	case msg := <-p.in:
		return copy(buf, msg), nil
	case <-time.After(5 * time.Second):
		return 0, errors.New("pipe receive timed out")
	}
}

func (p *pipeConn) Send(b []byte) error {
	p.out <- append([]byte(nil), b...)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMockBasisIdentityAtRest(t *testing.T) {
	if got := mockBasis(0, 0, 0); got != variant.Identity {
		t.Fatalf("unexpected basis: %v", got)
	}
}

func TestMockBasisIsRotation(t *testing.T) {
	for _, tt := range []float64{0, 0.37, 1.5, 12.25} {
		roll, pitch, yaw := mockEulerAngles(tt)
		b := mockBasis(roll, pitch, yaw)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				var dot float64
				for k := 0; k < 3; k++ {
					dot += float64(b[i][k]) * float64(b[j][k])
				}
				want := 0.0
				if i == j {
					want = 1
				}
				if math.Abs(dot-want) > 1e-5 {
					t.Fatalf("t=%v: rows %d,%d not orthonormal: %v", tt, i, j, dot)
				}
			}
		}
		det := float64(b[0][0])*(float64(b[1][1])*float64(b[2][2])-float64(b[1][2])*float64(b[2][1])) -
			float64(b[0][1])*(float64(b[1][0])*float64(b[2][2])-float64(b[1][2])*float64(b[2][0])) +
			float64(b[0][2])*(float64(b[1][0])*float64(b[2][1])-float64(b[1][1])*float64(b[2][0]))
		if math.Abs(det-1) > 1e-5 {
			t.Fatalf("t=%v: determinant %v", tt, det)
		}
	}
}

func TestMockStateStaysInStickRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		s := mockState(float64(i)*0.05, 0.004)
		for ch, v := range s.RCData {
			if v < -1 || v > 1 {
				t.Fatalf("channel %d out of range at step %d: %v", ch, i, v)
			}
		}
		if s.Delta != 0.004 {
			t.Fatalf("unexpected delta: %v", s.Delta)
		}
	}
}

func TestMockHostAgainstDriver(t *testing.T) {
	hostEnd, bridgeEnd := newPipe()
	fw := firmware.NewStub()
	drv := sim.NewDriver(bridgeEnd, fw, sim.WithOSD(true), sim.WithLogger(quietLogger()))

	errCh := make(chan error, 1)
	go func() {
		if err := drv.Connect(); err != nil {
			errCh <- err
			return
		}
		for {
			more, err := drv.Step()
			if err != nil || !more {
				errCh <- err
				return
			}
		}
	}()

	mc := config.MockConfig{Steps: 50, Delta: 0.004}
	report, err := runMockHost(context.Background(), hostEnd, mc, quietLogger())
	if err != nil {
		t.Fatalf("mock host failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("driver failed: %v", err)
	}

	if report.Steps != 50 || report.OSDReplies != 50 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Virtual != 200*time.Millisecond {
		t.Fatalf("unexpected virtual time: %s", report.Virtual)
	}
	if drv.Clock().Micros() != 200_000 || fw.Ticks() != 4000 || fw.Jitter() != 0 {
		t.Fatalf("unexpected firmware state: %d us, %d ticks, %d jitter",
			drv.Clock().Micros(), fw.Ticks(), fw.Jitter())
	}

	last := mockState(float64(49*4000)/1e6, 0.004)
	if report.LastUpdate.LinearVelocity != last.LinearVelocity ||
		report.LastUpdate.AngularVelocity != last.AngularVelocity {
		t.Fatalf("velocities not echoed: %+v", report.LastUpdate)
	}
	if report.LastOSD == nil || !strings.Contains(strings.Join(report.LastOSD.Lines(), "\n"), "SITL") {
		t.Fatalf("unexpected OSD: %v", report.LastOSD)
	}
}

func TestMockHostRefusedAck(t *testing.T) {
	hostEnd, bridgeEnd := newPipe()
	go func() {
		buf := make([]byte, 1024)
		_, _ = bridgeEnd.ReceiveInto(buf)
		_ = bridgeEnd.Send(variant.EncodeBool(false))
	}()
	_, err := runMockHost(context.Background(), hostEnd, config.MockConfig{Steps: 1, Delta: 0.01}, quietLogger())
	if !errors.Is(err, errAckRefused) {
		t.Fatalf("expected refused ack, got %v", err)
	}
}

func TestMockHostCancelledStillStops(t *testing.T) {
	hostEnd, bridgeEnd := newPipe()
	go func() {
		buf := make([]byte, 1024)
		_, _ = bridgeEnd.ReceiveInto(buf)
		_ = bridgeEnd.Send(variant.EncodeBool(true))
	}()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := runMockHost(ctx, hostEnd, config.MockConfig{Steps: 10, Delta: 0.01, RateHz: 100}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Steps != 0 {
		t.Fatalf("expected no steps, got %d", report.Steps)
	}
	buf := make([]byte, 16)
	n, _ := bridgeEnd.ReceiveInto(buf)
	if !protocol.IsStop(buf[:n]) {
		t.Fatalf("expected STOP, got %q", buf[:n])
	}
}

func TestPrintReportShowsOSD(t *testing.T) {
	var osd protocol.OSDBuffer
	osd.SetText(3, 2, "12.0V")
	var out bytes.Buffer
	printReport(&out, mockReport{Steps: 2, Virtual: 8 * time.Millisecond, OSDReplies: 2, LastOSD: &osd})
	text := out.String()
	if !strings.HasPrefix(text, "steps: 2, virtual: 8ms") {
		t.Fatalf("unexpected summary: %q", text)
	}
	if !strings.Contains(text, "|  12.0V|") {
		t.Fatalf("missing OSD line: %q", text)
	}
}

// syncBuffer is a bytes.Buffer safe for a logger goroutine and a poller.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// freeUDPAddrs holds n loopback ports open together so they are distinct,
// then releases them for the caller to bind.
func freeUDPAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		if err != nil {
			t.Fatalf("reserve port: %v", err)
		}
		defer conn.Close()
		addrs = append(addrs, conn.LocalAddr().String())
	}
	return addrs
}

func TestBridgeAndMockOverUDP(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	addrs := freeUDPAddrs(t, 2)
	cfg.Bridge.ListenAddr = addrs[0]
	cfg.Bridge.PeerAddr = addrs[1]
	cfg.Bridge.ReadTimeout = "5s"
	cfg.Log.JSONL = filepath.Join(dir, "steps.jsonl")
	cfg.Status.Every = 10
	cfg.Mock.Steps = 25
	cfg.Mock.Delta = 0.01

	var bridgeLog syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- runBridge(context.Background(), cfg, io.Discard, &bridgeLog)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(bridgeLog.String(), "waiting for physics host") {
		if time.Now().After(deadline) {
			t.Fatalf("bridge never bound: %s", bridgeLog.String())
		}
		time.Sleep(5 * time.Millisecond)
	}

	var mockOut, mockLog bytes.Buffer
	if err := runMock(context.Background(), cfg, 5*time.Second, &mockOut, &mockLog); err != nil {
		t.Fatalf("mock failed: %v\n%s", err, mockLog.String())
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("bridge failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("bridge did not stop after STOP")
	}

	if !strings.HasPrefix(mockOut.String(), "steps: 25, virtual: 250ms") {
		t.Fatalf("unexpected mock summary: %q", mockOut.String())
	}
	logText := bridgeLog.String()
	if strings.Count(logText, "msg=status") != 2 {
		t.Fatalf("expected two status lines:\n%s", logText)
	}
	if !strings.Contains(logText, "msg=\"session stopped\" steps=25 virtual_us=250000 ticks=5000 jitter=0") {
		t.Fatalf("unexpected shutdown line:\n%s", logText)
	}

	f, err := os.Open(cfg.Log.JSONL)
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	if lines != 25 {
		t.Fatalf("expected 25 jsonl records, got %d", lines)
	}
}
