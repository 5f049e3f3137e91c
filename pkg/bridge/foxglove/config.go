package foxglove

// Channel IDs advertised to every client.
const (
	ChannelState     uint64 = 1
	ChannelTransform uint64 = 2
	ChannelPose      uint64 = 3
	ChannelOSD       uint64 = 4
)

const StateSchema = `{
  "type": "object",
  "properties": {
    "seq": { "type": "integer" },
    "virtual_us": { "type": "integer" },
    "pending_us": { "type": "integer" },
    "drift_us": { "type": "integer" },
    "ticks": { "type": "integer" },
    "delta": { "type": "number" },
    "position": { "type": "array", "items": { "type": "number" } },
    "linear_velocity": { "type": "array", "items": { "type": "number" } },
    "angular_velocity": { "type": "array", "items": { "type": "number" } },
    "rc_data": { "type": "array", "items": { "type": "number" } },
    "crashed": { "type": "boolean" }
  },
  "required": ["seq", "virtual_us", "delta"]
}`

const timeSchema = `{ "type": "object", "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } } }`

const vectorSchema = `{ "type": "object", "properties": { "x": { "type": "number" }, "y": { "type": "number" }, "z": { "type": "number" } } }`

const quaternionSchema = `{ "type": "object", "properties": { "x": { "type": "number" }, "y": { "type": "number" }, "z": { "type": "number" }, "w": { "type": "number" } } }`

const FrameTransformsSchema = `{
  "type": "object",
  "properties": {
    "transforms": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "timestamp": ` + timeSchema + `,
          "parent_frame_id": { "type": "string" },
          "child_frame_id": { "type": "string" },
          "translation": ` + vectorSchema + `,
          "rotation": ` + quaternionSchema + `
        }
      }
    }
  }
}`

const PoseInFrameSchema = `{
  "type": "object",
  "properties": {
    "timestamp": ` + timeSchema + `,
    "frame_id": { "type": "string" },
    "pose": {
      "type": "object",
      "properties": {
        "position": ` + vectorSchema + `,
        "orientation": ` + quaternionSchema + `
      }
    }
  }
}`

const LogSchema = `{
  "type": "object",
  "properties": {
    "timestamp": ` + timeSchema + `,
    "level": { "type": "integer" },
    "message": { "type": "string" },
    "name": { "type": "string" },
    "file": { "type": "string" },
    "line": { "type": "integer" }
  }
}`

type Config struct {
	WSAddr        string
	Name          string
	TopicPrefix   string
	ParentFrameID string
	FrameID       string
	SendBuf       int
}

func DefaultConfig() Config {
	return Config{
		WSAddr:        "127.0.0.1:8765",
		Name:          "fcbridge",
		TopicPrefix:   "fcbridge",
		ParentFrameID: "world",
		FrameID:       "quad",
		SendBuf:       256,
	}
}

// Topic joins the configured prefix and a channel name.
func (c Config) Topic(name string) string {
	if c.TopicPrefix == "" {
		return "/" + name
	}
	return "/" + c.TopicPrefix + "/" + name
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WSAddr == "" {
		c.WSAddr = d.WSAddr
	}
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.ParentFrameID == "" {
		c.ParentFrameID = d.ParentFrameID
	}
	if c.FrameID == "" {
		c.FrameID = d.FrameID
	}
	if c.SendBuf <= 0 {
		c.SendBuf = d.SendBuf
	}
	return c
}
