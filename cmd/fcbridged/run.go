package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"fcbridge/pkg/bridge/foxglove"
	"fcbridge/pkg/config"
	"fcbridge/pkg/engine"
	"fcbridge/pkg/firmware"
	"fcbridge/pkg/logger"
	"fcbridge/pkg/logging"
	"fcbridge/pkg/monitor"
	"fcbridge/pkg/sim"
	"fcbridge/pkg/transport"
)

type runFlags struct {
	listen      string
	peer        string
	osd         bool
	readTimeout string
	jsonl       string
	jsonlOSD    bool
	statusEvery int
	tui         bool
	foxglove    bool
	wsAddr      string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve one session for the physics host",
		Long: `run binds the listen address, waits for the host's InitPacket, then
steps the firmware once per StatePacket until the host sends STOP.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			f.apply(cmd.Flags(), &cfg)
			if err := cfg.Validate(); err != nil {
				return usageError{err}
			}
			return runBridge(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.listen, "listen", "", "UDP address to receive host datagrams on")
	fl.StringVar(&f.peer, "peer", "", "UDP address of the physics host")
	fl.BoolVar(&f.osd, "osd", true, "answer with StateOsdUpdatePacket")
	fl.StringVar(&f.readTimeout, "read-timeout", "", "give up when the host is silent this long (e.g. 5s)")
	fl.StringVar(&f.jsonl, "jsonl", "", "write one JSON record per step to this file (- for stdout)")
	fl.BoolVar(&f.jsonlOSD, "jsonl-osd", false, "include OSD rows in JSONL records")
	fl.IntVar(&f.statusEvery, "status-every", 0, "log a status line every N steps (0 disables)")
	fl.BoolVar(&f.tui, "tui", false, "show a live status view instead of console logs")
	fl.BoolVar(&f.foxglove, "foxglove", false, "serve telemetry to Foxglove Studio")
	fl.StringVar(&f.wsAddr, "ws-addr", "", "Foxglove websocket address")
	return cmd
}

// apply overrides cfg with the flags the user actually set.
func (f runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("listen") {
		cfg.Bridge.ListenAddr = f.listen
	}
	if fs.Changed("peer") {
		cfg.Bridge.PeerAddr = f.peer
	}
	if fs.Changed("osd") {
		cfg.Bridge.OSD = f.osd
	}
	if fs.Changed("read-timeout") {
		cfg.Bridge.ReadTimeout = f.readTimeout
	}
	if fs.Changed("jsonl") {
		cfg.Log.JSONL = f.jsonl
	}
	if fs.Changed("jsonl-osd") {
		cfg.Log.JSONLOSD = f.jsonlOSD
	}
	if fs.Changed("status-every") {
		cfg.Status.Every = f.statusEvery
	}
	if fs.Changed("tui") {
		cfg.Status.TUI = f.tui
	}
	if fs.Changed("foxglove") {
		cfg.Foxglove.Enabled = f.foxglove
	}
	if fs.Changed("ws-addr") {
		cfg.Foxglove.WSAddr = f.wsAddr
	}
}

// runBridge serves a single session. A STOP from the host or a cancelled ctx
// ends it cleanly; any transport or decode failure is returned.
func runBridge(ctx context.Context, cfg config.Config, stdout io.Writer, stderr io.Writer) error {
	var logFile io.Writer
	if p := cfg.LogFilePath(); p != "" {
		file, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer file.Close()
		logFile = file
	}
	// The status view owns the terminal.
	var console io.Writer = stderr
	if cfg.Status.TUI {
		console = nil
	}
	log := logging.New(console, cfg.Log.Level, logFile)

	var jsonlOut io.Writer
	switch p := cfg.JSONLPath(); p {
	case "":
	case "-":
		jsonlOut = stdout
	default:
		file, err := os.Create(p)
		if err != nil {
			return fmt.Errorf("open jsonl output: %w", err)
		}
		defer file.Close()
		jsonlOut = file
	}

	timeout, err := cfg.ReadTimeout()
	if err != nil {
		return err
	}
	ch, err := transport.Open(cfg.Bridge.ListenAddr, cfg.Bridge.PeerAddr,
		transport.WithReadTimeout(timeout),
		transport.WithErrorHandler(func(err error) {
			log.Debug("transport failure", "err", err)
		}),
	)
	if err != nil {
		return err
	}
	defer ch.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	// Closing the socket is what unblocks a pending receive.
	stopClose := context.AfterFunc(sessionCtx, func() { _ = ch.Close() })
	defer stopClose()

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	driverOpts := []sim.Option{
		sim.WithOSD(cfg.Bridge.OSD),
		sim.WithReceiveBuffer(cfg.Bridge.RecvBuf),
		sim.WithLogger(log),
	}
	if jsonlOut != nil || cfg.Foxglove.Enabled || cfg.Status.TUI {
		hub := engine.NewHub()
		go hub.Run(sessionCtx)
		driverOpts = append(driverOpts, sim.WithPublisher(hub))
		startConsumers(sessionCtx, cancel, &wg, hub, cfg, jsonlOut, stdout, log)
	}

	fw := firmware.NewStub()
	drv := sim.NewDriver(ch, fw, driverOpts...)

	log.Info("waiting for physics host",
		"listen", ch.LocalAddr().String(),
		"peer", cfg.Bridge.PeerAddr,
	)
	if err := drv.Connect(); err != nil {
		if sessionCtx.Err() != nil {
			log.Info("interrupted before connect")
			return nil
		}
		return fmt.Errorf("connect: %w", err)
	}

	started := time.Now()
	var steps uint64
	for {
		more, err := drv.Step()
		if err != nil {
			if sessionCtx.Err() != nil {
				log.Info("interrupted", "steps", steps)
				return nil
			}
			return fmt.Errorf("step %d: %w", steps+1, err)
		}
		if !more {
			break
		}
		steps++
		if every := cfg.Status.Every; every > 0 && steps%uint64(every) == 0 {
			logStatus(log, steps, time.Since(started), drv.Clock().Micros())
		}
	}

	log.Info("session stopped",
		"steps", steps,
		"virtual_us", drv.Clock().Micros(),
		"ticks", fw.Ticks(),
		"jitter", fw.Jitter(),
	)
	return nil
}

func startConsumers(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, hub *engine.Hub, cfg config.Config, jsonlOut io.Writer, stdout io.Writer, log *slog.Logger) {
	if jsonlOut != nil {
		w := logger.NewJSONLWriter(jsonlOut, logger.WithOSD(cfg.Log.JSONLOSD))
		sub := hub.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Drain until the hub closes sub so the last steps are written.
			if err := w.Consume(context.Background(), sub); err != nil {
				log.Warn("jsonl output stopped", "err", err)
				hub.Unsubscribe(sub)
			}
		}()
	}

	if cfg.Foxglove.Enabled {
		srv := foxglove.NewServer(foxglove.Config{
			WSAddr:        cfg.Foxglove.WSAddr,
			Name:          "fcbridge",
			TopicPrefix:   cfg.Foxglove.TopicPrefix,
			ParentFrameID: cfg.Foxglove.ParentFrame,
			FrameID:       cfg.Foxglove.FrameID,
		}, hub, foxglove.WithLogger(log))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Error("foxglove bridge stopped", "err", err)
			}
		}()
	}

	if cfg.Status.TUI {
		sub := hub.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := monitor.Run(ctx, sub, nil, stdout,
				monitor.WithDropped(hub.Dropped),
				monitor.WithTitle("fcbridged "+cfg.Bridge.ListenAddr),
			)
			if err != nil {
				log.Error("status view stopped", "err", err)
			}
			// Quitting the view ends the session.
			cancel()
		}()
	}
}

func logStatus(log *slog.Logger, steps uint64, wall time.Duration, virtualMicros uint64) {
	wallMicros := wall.Microseconds()
	log.Info("status",
		"steps", steps,
		"wall_us", wallMicros,
		"virtual_us", virtualMicros,
		"drift_us", int64(virtualMicros)-wallMicros,
	)
}
