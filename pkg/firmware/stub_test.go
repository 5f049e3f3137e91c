package firmware_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fcbridge/pkg/firmware"
	"fcbridge/pkg/protocol"
	"fcbridge/pkg/sim"
)

func TestStubTicksOnVirtualTime(t *testing.T) {
	var clock sim.Clock
	stub := firmware.NewStub()
	stub.Configure(protocol.InitPacket{QuadVbat: 16.8}, &clock)

	clock.Add(2_500_000)
	n := clock.Drain(stub.SchedulerTick)

	assert.Equal(t, 50_000, n)
	assert.Equal(t, uint64(50_000), stub.Ticks())
	assert.Zero(t, stub.Jitter())
}

func TestStubRendersOSD(t *testing.T) {
	var clock sim.Clock
	stub := firmware.NewStub()
	stub.Configure(protocol.InitPacket{QuadVbat: 16.8}, &clock)

	clock.Add(65_000_000)
	clock.Drain(stub.SchedulerTick)

	lines := stub.DisplayBuffer().Lines()
	require.Len(t, lines, protocol.OSDRows)
	assert.Contains(t, lines[1], "16.8V")
	assert.Contains(t, lines[1], "01:04")
	assert.Contains(t, lines[protocol.OSDRows/2], "SITL")
}

func TestStubIgnoresTicksBeforeConfigure(t *testing.T) {
	stub := firmware.NewStub()
	stub.SchedulerTick()
	assert.Zero(t, stub.Ticks())
}

func TestDisplayBufferIsSnapshot(t *testing.T) {
	var clock sim.Clock
	stub := firmware.NewStub()
	stub.Configure(protocol.InitPacket{}, &clock)
	clock.Add(sim.TickMicros)
	clock.Drain(stub.SchedulerTick)

	snap := stub.DisplayBuffer()
	snap.SetText(0, 0, "X")
	assert.NotEqual(t, "X", stub.DisplayBuffer().Lines()[0])
}
