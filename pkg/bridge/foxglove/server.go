package foxglove

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fcbridge/pkg/engine"
	"fcbridge/pkg/sim"
)

const (
	logLevelInfo    = 2
	logLevelWarning = 3
)

// StateMessage is the per-step record on the state channel.
type StateMessage struct {
	Seq             uint64     `json:"seq"`
	VirtualMicros   uint64     `json:"virtual_us"`
	PendingMicros   int64      `json:"pending_us"`
	DriftMicros     int64      `json:"drift_us"`
	Ticks           int        `json:"ticks"`
	Delta           float32    `json:"delta"`
	Position        [3]float32 `json:"position"`
	LinearVelocity  [3]float32 `json:"linear_velocity"`
	AngularVelocity [3]float32 `json:"angular_velocity"`
	RCData          []float32  `json:"rc_data"`
	Crashed         bool       `json:"crashed"`
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quaternion3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type FrameTime struct {
	Sec  uint32 `json:"sec"`
	Nsec uint32 `json:"nsec"`
}

type FrameTransformMessage struct {
	Timestamp     FrameTime   `json:"timestamp"`
	ParentFrameID string      `json:"parent_frame_id"`
	ChildFrameID  string      `json:"child_frame_id"`
	Translation   Vector3     `json:"translation"`
	Rotation      Quaternion3 `json:"rotation"`
}

type FrameTransformsMessage struct {
	Transforms []FrameTransformMessage `json:"transforms"`
}

type Pose struct {
	Position    Vector3     `json:"position"`
	Orientation Quaternion3 `json:"orientation"`
}

type PoseInFrameMessage struct {
	Timestamp FrameTime `json:"timestamp"`
	FrameID   string    `json:"frame_id"`
	Pose      Pose      `json:"pose"`
}

type LogMessage struct {
	Timestamp FrameTime `json:"timestamp"`
	Level     uint8     `json:"level"`
	Message   string    `json:"message"`
	Name      string    `json:"name"`
	File      string    `json:"file"`
	Line      uint32    `json:"line"`
}

// Server publishes driver frames to Foxglove clients over the
// foxglove.websocket.v1 protocol.
type Server struct {
	cfg     Config
	hub     *engine.Hub
	log     *slog.Logger
	clients map[*client]struct{}
	mu      sync.RWMutex

	// Only touched by the broadcast loop.
	lastOSD string
	seen    bool
	crashed bool
}

// outbound is one websocket frame queued for a client.
type outbound struct {
	msgType int
	data    []byte
}

type client struct {
	conn *websocket.Conn
	send chan outbound
	subs map[uint32]uint64
	mu   sync.RWMutex
	once sync.Once
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func NewServer(cfg Config, hub *engine.Hub, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg.withDefaults(),
		hub:     hub,
		log:     slog.Default(),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	httpServer := &http.Server{
		Addr:              s.cfg.WSAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sub := s.hub.Subscribe()
	go s.broadcastLoop(ctx, sub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.log.Info("foxglove bridge listening", "addr", s.cfg.WSAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		s.closeAll()
		return nil
	case err := <-errCh:
		s.hub.Unsubscribe(sub)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("foxglove listen %s: %w", s.cfg.WSAddr, err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{"foxglove.websocket.v1"},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("foxglove upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	s.addClient(c)
	defer func() {
		c.close()
		s.removeClient(c)
	}()

	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		return
	}
	if err := conn.WriteJSON(s.advertise()); err != nil {
		return
	}
	s.log.Debug("foxglove client connected", "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop(s.supportedChannels())
}

func (s *Server) supportedChannels() map[uint64]struct{} {
	channels := make(map[uint64]struct{})
	for _, ch := range s.advertise().Channels {
		channels[ch.ID] = struct{}{}
	}
	return channels
}

func (s *Server) serverInfo() ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               s.cfg.Name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		Metadata: map[string]string{
			"scheduler_hz": strconv.Itoa(sim.Frequency),
			"tick_us":      strconv.Itoa(sim.TickMicros),
		},
		SessionID: fmt.Sprintf("%d", time.Now().UTC().UnixNano()),
	}
}

func (s *Server) advertise() AdvertiseMsg {
	channel := func(id uint64, name, schemaName, schema string) Channel {
		return Channel{
			ID:             id,
			Topic:          s.cfg.Topic(name),
			Encoding:       "json",
			SchemaName:     schemaName,
			SchemaEncoding: "jsonschema",
			Schema:         schema,
		}
	}
	return AdvertiseMsg{
		Op: OpAdvertise,
		Channels: []Channel{
			channel(ChannelState, "state", "fcbridge.State", StateSchema),
			channel(ChannelTransform, "tf", "foxglove.FrameTransforms", FrameTransformsSchema),
			channel(ChannelPose, "pose", "foxglove.PoseInFrame", PoseInFrameSchema),
			channel(ChannelOSD, "osd", "foxglove.Log", LogSchema),
		},
	}
}

func (s *Server) broadcastLoop(ctx context.Context, sub <-chan engine.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub:
			if !ok {
				return
			}
			if st, ok := s.statusFromFrame(frame); ok {
				s.broadcastStatus(st)
			}
			s.broadcastFrame(frame)
		}
	}
}

// statusFromFrame announces the first frame of a session and every change of
// the crashed flag.
func (s *Server) statusFromFrame(frame engine.Frame) (StatusMsg, bool) {
	crashed := frame.State.Crashed
	switch {
	case !s.seen:
		s.seen = true
		s.crashed = crashed
		if crashed {
			return NewStatus(StatusWarning, "vehicle", "physics host connected, vehicle crashed"), true
		}
		return NewStatus(StatusInfo, "session", "physics host connected"), true
	case crashed == s.crashed:
		return StatusMsg{}, false
	}
	s.crashed = crashed
	if crashed {
		return NewStatus(StatusWarning, "vehicle", fmt.Sprintf("vehicle crashed at step %d", frame.Seq)), true
	}
	return NewStatus(StatusInfo, "vehicle", fmt.Sprintf("vehicle recovered at step %d", frame.Seq)), true
}

func (s *Server) broadcastStatus(st StatusMsg) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	for _, c := range s.snapshotClients() {
		c.trySend(outbound{msgType: websocket.TextMessage, data: data})
	}
}

func (s *Server) broadcastFrame(frame engine.Frame) {
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	s.publishJSONToChannel(ChannelState, ts, stateFromFrame(frame))
	s.publishJSONToChannel(ChannelTransform, ts, s.transformFromFrame(frame, ts))
	s.publishJSONToChannel(ChannelPose, ts, s.poseFromFrame(frame, ts))
	if msg, ok := s.osdFromFrame(frame, ts); ok {
		s.publishJSONToChannel(ChannelOSD, ts, msg)
	}
}

func (s *Server) publishJSONToChannel(channelID uint64, ts time.Time, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		return
	}

	logTime := uint64(ts.UnixNano())
	for _, c := range s.snapshotClients() {
		for _, subID := range c.subIDsForChannel(channelID) {
			c.trySend(outbound{
				msgType: websocket.BinaryMessage,
				data:    EncodeMessageData(subID, logTime, payload),
			})
		}
	}
}

func stateFromFrame(frame engine.Frame) StateMessage {
	st := frame.State
	return StateMessage{
		Seq:             frame.Seq,
		VirtualMicros:   frame.VirtualMicros,
		PendingMicros:   frame.PendingMicros,
		DriftMicros:     frame.Drift(),
		Ticks:           frame.Ticks,
		Delta:           st.Delta,
		Position:        st.Position,
		LinearVelocity:  st.LinearVelocity,
		AngularVelocity: st.AngularVelocity,
		RCData:          st.RCData[:],
		Crashed:         st.Crashed,
	}
}

func (s *Server) transformFromFrame(frame engine.Frame, ts time.Time) FrameTransformsMessage {
	return FrameTransformsMessage{Transforms: []FrameTransformMessage{{
		Timestamp:     frameTime(ts),
		ParentFrameID: s.cfg.ParentFrameID,
		ChildFrameID:  s.cfg.FrameID,
		Translation:   vector(frame.State.Position),
		Rotation:      quaternionFromBasis(frame.State.Rotation),
	}}}
}

func (s *Server) poseFromFrame(frame engine.Frame, ts time.Time) PoseInFrameMessage {
	return PoseInFrameMessage{
		Timestamp: frameTime(ts),
		FrameID:   s.cfg.ParentFrameID,
		Pose: Pose{
			Position:    vector(frame.State.Position),
			Orientation: quaternionFromBasis(frame.State.Rotation),
		},
	}
}

// osdFromFrame renders the OSD grid as a log line. Unchanged grids are not
// republished.
func (s *Server) osdFromFrame(frame engine.Frame, ts time.Time) (LogMessage, bool) {
	if frame.OSD == nil {
		return LogMessage{}, false
	}
	lines := frame.OSD.Lines()
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	text := strings.Join(kept, "\n")
	if text == s.lastOSD {
		return LogMessage{}, false
	}
	s.lastOSD = text

	level := uint8(logLevelInfo)
	if frame.State.Crashed {
		level = logLevelWarning
	}
	return LogMessage{
		Timestamp: frameTime(ts),
		Level:     level,
		Message:   text,
		Name:      s.cfg.Name + ".osd",
	}, true
}

func frameTime(ts time.Time) FrameTime {
	return FrameTime{Sec: uint32(ts.Unix()), Nsec: uint32(ts.Nanosecond())}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	for _, c := range s.snapshotClients() {
		c.close()
	}
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	if sendBuf <= 0 {
		sendBuf = DefaultConfig().SendBuf
	}
	return &client{
		conn: conn,
		send: make(chan outbound, sendBuf),
		subs: make(map[uint32]uint64),
	}
}

func (c *client) readLoop(supportedChannels map[uint64]struct{}) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := ParseClientMessage(data)
		if err != nil {
			continue
		}
		switch msg := parsed.(type) {
		case SubscribeMsg:
			for _, sub := range msg.Subscriptions {
				if _, ok := supportedChannels[sub.ChannelID]; ok {
					c.addSub(sub.ID, sub.ChannelID)
				}
			}
		case UnsubscribeMsg:
			for _, id := range msg.SubscriptionIDs {
				c.removeSub(id)
			}
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(msg.msgType, msg.data); err != nil {
			c.close()
			return
		}
	}
}

// trySend drops the message when the client is behind. A send racing with
// close panics on the closed channel; that is recovered and ignored.
func (c *client) trySend(msg outbound) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) addSub(id uint32, channelID uint64) {
	c.mu.Lock()
	c.subs[id] = channelID
	c.mu.Unlock()
}

func (c *client) removeSub(id uint32) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *client) subIDsForChannel(channelID uint64) []uint32 {
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.subs))
	for id, ch := range c.subs {
		if ch == channelID {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	return ids
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
