package logger

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"fcbridge/pkg/engine"
	"fcbridge/pkg/protocol"
)

// JSONLWriter writes one JSON object per driver step.
type JSONLWriter struct {
	enc     *json.Encoder
	withOSD bool
}

type jsonRecord struct {
	TS            string                `json:"ts"`
	Seq           uint64                `json:"seq"`
	WallMicros    int64                 `json:"wall_us"`
	VirtualMicros uint64                `json:"virtual_us"`
	PendingMicros int64                 `json:"pending_us"`
	DriftMicros   int64                 `json:"drift_us"`
	Ticks         int                   `json:"ticks"`
	State         *protocol.StatePacket `json:"state"`
	OSD           *protocol.OSDBuffer   `json:"osd,omitempty"`
}

type Option func(*JSONLWriter)

// WithOSD includes the OSD rows in each record when a frame carries them.
func WithOSD(enabled bool) Option {
	return func(j *JSONLWriter) {
		j.withOSD = enabled
	}
}

func NewJSONLWriter(w io.Writer, opts ...Option) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	j := &JSONLWriter{enc: enc}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Write encodes a single frame.
func (j *JSONLWriter) Write(frame engine.Frame) error {
	rec := jsonRecord{
		TS:            frame.Timestamp.UTC().Format(time.RFC3339Nano),
		Seq:           frame.Seq,
		WallMicros:    frame.WallElapsed.Microseconds(),
		VirtualMicros: frame.VirtualMicros,
		PendingMicros: frame.PendingMicros,
		DriftMicros:   frame.Drift(),
		Ticks:         frame.Ticks,
		State:         &frame.State,
	}
	if j.withOSD {
		rec.OSD = frame.OSD
	}
	return j.enc.Encode(rec)
}

// Consume writes frames until in is closed or ctx is done. The first write
// error ends consumption and is returned.
func (j *JSONLWriter) Consume(ctx context.Context, in <-chan engine.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-in:
			if !ok {
				return nil
			}
			if err := j.Write(frame); err != nil {
				return err
			}
		}
	}
}
