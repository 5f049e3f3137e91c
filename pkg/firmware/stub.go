// Package firmware provides a stand-in for the flight-control program. It
// exercises the same entry points a linked SITL build would: one-time
// configuration, scheduler ticks against the virtual clock and an OSD grid.
package firmware

import (
	"fmt"
	"sync"

	"fcbridge/pkg/protocol"
	"fcbridge/pkg/sim"
)

// osdRefreshMicros matches a 12.5 Hz OSD task.
const osdRefreshMicros = 80_000

// Stub counts scheduler ticks and renders a small OSD from virtual time.
type Stub struct {
	mu         sync.Mutex
	vehicle    protocol.InitPacket
	clock      sim.TimeSource
	ticks      uint64
	lastTick   uint64
	jitter     uint64
	nextOSD    uint64
	osd        protocol.OSDBuffer
	configured bool
}

var _ sim.Firmware = (*Stub)(nil)

func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) Configure(vehicle protocol.InitPacket, clock sim.TimeSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicle = vehicle
	s.clock = clock
	s.ticks = 0
	s.lastTick = 0
	s.jitter = 0
	s.nextOSD = 0
	s.osd = protocol.OSDBuffer{}
	s.configured = true
}

func (s *Stub) SchedulerTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return
	}
	now := s.clock.Micros()
	if s.ticks > 0 && now-s.lastTick != sim.TickMicros {
		s.jitter++
	}
	s.lastTick = now
	s.ticks++

	if now >= s.nextOSD {
		s.render(now)
		s.nextOSD = now + osdRefreshMicros
	}
}

func (s *Stub) DisplayBuffer() *protocol.OSDBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	osd := s.osd
	return &osd
}

// Ticks is the number of scheduler passes since Configure.
func (s *Stub) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Jitter counts ticks whose spacing from the previous tick was not exactly
// one scheduler period of virtual time. It stays zero under a correct driver.
func (s *Stub) Jitter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jitter
}

func (s *Stub) render(now uint64) {
	s.osd = protocol.OSDBuffer{}
	secs := now / 1_000_000
	s.osd.SetText(1, 1, fmt.Sprintf("%4.1fV", s.vehicle.QuadVbat))
	s.osd.SetText(1, protocol.OSDCols-6, fmt.Sprintf("%02d:%02d", secs/60, secs%60))
	s.osd.SetText(protocol.OSDRows/2, protocol.OSDCols/2-4, "SITL")
	s.osd.SetText(protocol.OSDRows-2, 1, fmt.Sprintf("T%d", s.ticks))
}
