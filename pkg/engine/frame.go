package engine

import (
	"time"

	"fcbridge/pkg/protocol"
)

// Frame is the telemetry record of one completed driver step.
type Frame struct {
	Seq           uint64
	Timestamp     time.Time
	WallElapsed   time.Duration
	VirtualMicros uint64
	PendingMicros int64
	Ticks         int
	State         protocol.StatePacket
	OSD           *protocol.OSDBuffer
}

// Drift is virtual time minus wall time since connect, in microseconds.
// Positive means the firmware is ahead of the wall clock.
func (f Frame) Drift() int64 {
	return int64(f.VirtualMicros) - f.WallElapsed.Microseconds()
}
