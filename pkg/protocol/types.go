package protocol

import (
	"encoding/json"
	"strings"

	"fcbridge/pkg/variant"
)

// OSD character grid dimensions (PAL).
const (
	OSDRows = 16
	OSDCols = 30
	OSDSize = OSDRows * OSDCols
)

// RCChannels is the number of remote-control channels carried per state.
const RCChannels = 8

// Wire sizes of each packet type.
const (
	InitPacketSize = variant.ArrayHeaderSize +
		7*variant.FloatSize + // motor and propeller constants
		variant.ArrayHeaderSize + 3*variant.FloatSize + // prop_thrust_factors
		variant.Vec3Size + variant.FloatSize + // frame drag
		variant.FloatSize + variant.Vec3Size + variant.FloatSize + // mass, inertia, vbat
		variant.ArrayHeaderSize + 4*variant.Vec3Size // quad_motor_pos

	StatePacketSize = variant.ArrayHeaderSize +
		variant.FloatSize +
		variant.Vec3Size +
		variant.BasisSize +
		2*variant.Vec3Size +
		variant.ArrayHeaderSize + RCChannels*variant.FloatSize +
		variant.BoolSize

	StateUpdatePacketSize = variant.ArrayHeaderSize + 2*variant.Vec3Size

	StateOsdUpdatePacketSize = StateUpdatePacketSize + variant.HeaderSize + 4 + OSDSize
)

// InitPacket carries the vehicle constants sent once by the physics host.
type InitPacket struct {
	MotorKV           float32         `json:"motor_kv"`
	MotorR            float32         `json:"motor_R"`
	MotorI0           float32         `json:"motor_I0"`
	PropMaxRPM        float32         `json:"prop_max_rpm"`
	PropAFactor       float32         `json:"prop_a_factor"`
	PropTorqueFactor  float32         `json:"prop_torque_factor"`
	PropInertia       float32         `json:"prop_inertia"`
	PropThrustFactors [3]float32      `json:"prop_thrust_factors"`
	FrameDragArea     variant.Vec3    `json:"frame_drag_area"`
	FrameDragConstant float32         `json:"frame_drag_constant"`
	QuadMass          float32         `json:"quad_mass"`
	QuadInvInertia    variant.Vec3    `json:"quad_inv_inertia"`
	QuadVbat          float32         `json:"quad_vbat"`
	QuadMotorPos      [4]variant.Vec3 `json:"quad_motor_pos"`
}

func (*InitPacket) PacketName() string { return "InitPacket" }

func (p *InitPacket) fields() []field {
	return []field{
		{"motor_kv", &p.MotorKV},
		{"motor_R", &p.MotorR},
		{"motor_I0", &p.MotorI0},
		{"prop_max_rpm", &p.PropMaxRPM},
		{"prop_a_factor", &p.PropAFactor},
		{"prop_torque_factor", &p.PropTorqueFactor},
		{"prop_inertia", &p.PropInertia},
		{"prop_thrust_factors", p.PropThrustFactors[:]},
		{"frame_drag_area", &p.FrameDragArea},
		{"frame_drag_constant", &p.FrameDragConstant},
		{"quad_mass", &p.QuadMass},
		{"quad_inv_inertia", &p.QuadInvInertia},
		{"quad_vbat", &p.QuadVbat},
		{"quad_motor_pos", p.QuadMotorPos[:]},
	}
}

// StatePacket is the per-tick physics state.
type StatePacket struct {
	Delta           float32             `json:"delta"`
	Position        variant.Vec3        `json:"position"`
	Rotation        variant.Basis       `json:"rotation"`
	LinearVelocity  variant.Vec3        `json:"linear_velocity"`
	AngularVelocity variant.Vec3        `json:"angular_velocity"`
	RCData          [RCChannels]float32 `json:"rc_data"`
	Crashed         bool                `json:"crashed"`
}

func (*StatePacket) PacketName() string { return "StatePacket" }

func (p *StatePacket) fields() []field {
	return []field{
		{"delta", &p.Delta},
		{"position", &p.Position},
		{"rotation", &p.Rotation},
		{"linear_velocity", &p.LinearVelocity},
		{"angular_velocity", &p.AngularVelocity},
		{"rc_data", p.RCData[:]},
		{"crashed", &p.Crashed},
	}
}

type StateUpdatePacket struct {
	LinearVelocity  variant.Vec3 `json:"linear_velocity"`
	AngularVelocity variant.Vec3 `json:"angular_velocity"`
}

func (*StateUpdatePacket) PacketName() string { return "StateUpdatePacket" }

func (p *StateUpdatePacket) fields() []field {
	return []field{
		{"linear_velocity", &p.LinearVelocity},
		{"angular_velocity", &p.AngularVelocity},
	}
}

// StateOsdUpdatePacket is a StateUpdatePacket plus an OSD snapshot.
type StateOsdUpdatePacket struct {
	LinearVelocity  variant.Vec3 `json:"linear_velocity"`
	AngularVelocity variant.Vec3 `json:"angular_velocity"`
	OSD             OSDBuffer    `json:"osd"`
}

func (*StateOsdUpdatePacket) PacketName() string { return "StateOsdUpdatePacket" }

func (p *StateOsdUpdatePacket) fields() []field {
	return []field{
		{"linear_velocity", &p.LinearVelocity},
		{"angular_velocity", &p.AngularVelocity},
		{"osd", p.OSD[:]},
	}
}

// StateUpdateFromState projects the velocities of s into an update packet.
func StateUpdateFromState(s *StatePacket) StateUpdatePacket {
	return StateUpdatePacket{
		LinearVelocity:  s.LinearVelocity,
		AngularVelocity: s.AngularVelocity,
	}
}

// StateOsdUpdateFromState is StateUpdateFromState plus a copy of osd.
func StateOsdUpdateFromState(s *StatePacket, osd *OSDBuffer) StateOsdUpdatePacket {
	return StateOsdUpdatePacket{
		LinearVelocity:  s.LinearVelocity,
		AngularVelocity: s.AngularVelocity,
		OSD:             *osd,
	}
}

// OSDBuffer is a row-major OSD character grid.
type OSDBuffer [OSDSize]byte

// Row returns row i of the grid.
func (b *OSDBuffer) Row(i int) []byte {
	return b[i*OSDCols : (i+1)*OSDCols]
}

// SetText writes s into row starting at col, clipped to the grid.
func (b *OSDBuffer) SetText(row, col int, s string) {
	if row < 0 || row >= OSDRows || col < 0 || col >= OSDCols {
		return
	}
	copy(b.Row(row)[col:], s)
}

// Lines renders each row as a string with NUL and trailing blanks removed.
func (b *OSDBuffer) Lines() []string {
	lines := make([]string, OSDRows)
	for i := range lines {
		row := strings.ReplaceAll(string(b.Row(i)), "\x00", " ")
		lines[i] = strings.TrimRight(row, " ")
	}
	return lines
}

func (b OSDBuffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Lines())
}
