package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"fcbridge/pkg/protocol"
	"fcbridge/pkg/variant"
)

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionShort(t *testing.T) {
	code, out, _ := runCLI("version", "--short")
	if code != 0 {
		t.Fatalf("unexpected exit code: %d", code)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestVersionLong(t *testing.T) {
	code, out, _ := runCLI("version")
	if code != 0 || !strings.Contains(out, "Go version:") || !strings.HasPrefix(out, "fcbridged ") {
		t.Fatalf("unexpected version output (%d): %q", code, out)
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	code, _, errOut := runCLI("version", "--bogus")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(errOut, "bogus") {
		t.Fatalf("unexpected stderr: %q", errOut)
	}
}

func TestDecodeRequiresArgument(t *testing.T) {
	if code, _, _ := runCLI("decode"); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestDecodeBadHex(t *testing.T) {
	if code, _, _ := runCLI("decode", "zz"); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestDecodeStatePacket(t *testing.T) {
	state := protocol.StatePacket{
		Delta:    0.004,
		Position: variant.Vec3{1, 2, 3},
		Rotation: variant.Identity,
		Crashed:  true,
	}
	code, out, errOut := runCLI("decode", hex.EncodeToString(protocol.Encode(&state)))
	if code != 0 {
		t.Fatalf("unexpected exit code %d: %s", code, errOut)
	}

	var got struct {
		Kind   string               `json:"kind"`
		Size   int                  `json:"size"`
		Packet protocol.StatePacket `json:"packet"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Kind != "StatePacket" || got.Size != protocol.StatePacketSize {
		t.Fatalf("unexpected header: %s %d", got.Kind, got.Size)
	}
	if got.Packet != state {
		t.Fatalf("unexpected packet: %+v", got.Packet)
	}
}

func TestDecodeAcceptsHexDump(t *testing.T) {
	upd := protocol.StateUpdatePacket{LinearVelocity: variant.Vec3{0, -1, 0}}
	dump := protocol.HexDump(protocol.Encode(&upd))
	code, out, errOut := runCLI("decode", dump)
	if code != 0 {
		t.Fatalf("unexpected exit code %d: %s", code, errOut)
	}
	if !strings.Contains(out, `"kind": "StateUpdatePacket"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestDecodeAckAndStop(t *testing.T) {
	_, out, _ := runCLI("decode", "0x"+hex.EncodeToString(variant.EncodeBool(true)))
	if !strings.Contains(out, `"kind": "Ack"`) || !strings.Contains(out, `"packet": true`) {
		t.Fatalf("unexpected ack output: %s", out)
	}
	_, out, _ = runCLI("decode", hex.EncodeToString(protocol.StopToken))
	if !strings.Contains(out, `"kind": "Stop"`) {
		t.Fatalf("unexpected stop output: %s", out)
	}
}

func TestDecodeUnknownSize(t *testing.T) {
	code, _, errOut := runCLI("decode", "010203")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut, "no packet of 3 bytes") {
		t.Fatalf("unexpected stderr: %q", errOut)
	}
}

func TestDecodeMalformedIsFailure(t *testing.T) {
	payload := protocol.Encode(&protocol.StateUpdatePacket{})
	payload[4] = 99 // corrupt the array count
	code, _, errOut := runCLI("decode", hex.EncodeToString(payload))
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut, "StateUpdatePacket datagram of 40 bytes") {
		t.Fatalf("unexpected stderr: %q", errOut)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	code, _, errOut := runCLI("run", "--config", t.TempDir()+"/none.toml", "--listen", "nope")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d (%s)", code, errOut)
	}
	if !strings.Contains(errOut, "bridge.listen_addr") {
		t.Fatalf("unexpected stderr: %q", errOut)
	}
}
