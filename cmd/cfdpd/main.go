// Command cfdpd runs a CFDP entity over UDP, a KISS serial link or an in-process
// loopback peer. Files are sent with -send and directories with -playback.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/soypat/cfdp"
	"github.com/soypat/cfdp/engine"
	"github.com/soypat/cfdp/transport"
)

func main() {
	err := run()
	if err != nil {
		log.Fatalln("failed:", err)
	}
}

func run() error {
	var (
		flagConfig   = ""
		flagSend     = ""
		flagPlayback = ""
		flagClass    = 2
		flagDest     = uint64(0)
		flagKeep     = true
		flagExitIdle = false
	)
	flag.StringVar(&flagConfig, "config", flagConfig, "YAML configuration file. Defaults are used when empty.")
	flag.StringVar(&flagSend, "send", flagSend, "Send a file, formatted as src:dst.")
	flag.StringVar(&flagPlayback, "playback", flagPlayback, "Send every file of a directory, formatted as srcdir:dstdir.")
	flag.IntVar(&flagClass, "class", flagClass, "CFDP class of the transactions started with -send and -playback.")
	flag.Uint64Var(&flagDest, "dest", flagDest, "Destination entity ID. Defaults to the loopback peer.")
	flag.BoolVar(&flagKeep, "keep", flagKeep, "Keep source files after they are sent.")
	flag.BoolVar(&flagExitIdle, "exit-idle", flagExitIdle, "Exit once no transactions remain.")
	flag.Parse()

	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	ecfg := engine.Config(cfg.Engine)
	if flagDest == 0 {
		flagDest = uint64(cfg.Transport.Loopback.PeerEID)
	}

	var tp engine.Transport
	var peer *engine.Engine
	switch cfg.Transport.Kind {
	case "udp":
		u, err := transport.ListenUDP(cfg.Transport.UDP, logger)
		if err != nil {
			return err
		}
		defer u.Close()
		tp = u
	case "serial":
		s, err := transport.OpenSerial(cfg.Transport.Serial, logger)
		if err != nil {
			return err
		}
		defer s.Close()
		tp = s
	case "loopback":
		lb := cfg.Transport.Loopback
		// Room for the largest file data PDU plus encapsulation.
		mtu := ecfg.FileChunkSize + 256
		a, b, err := transport.NewLinkPair(len(ecfg.Channels), mtu, lb.QueueLen)
		if err != nil {
			return err
		}
		pcfg := ecfg
		pcfg.LocalEID = lb.PeerEID
		pcfg.TmpDir = lb.TmpDir
		peer, err = engine.New(pcfg, engine.OSFilestore{}, b, logger.With(slog.String("entity", "peer")))
		if err != nil {
			return err
		}
		tp = a
	default:
		return errors.New("unknown transport kind " + cfg.Transport.Kind)
	}
	e, err := engine.New(ecfg, engine.OSFilestore{}, tp, logger)
	if err != nil {
		return err
	}

	class := cfdp.Class(flagClass)
	dest := cfdp.EntityID(flagDest)
	if flagSend != "" {
		src, dst, ok := strings.Cut(flagSend, ":")
		if !ok {
			return errors.New("-send must be formatted as src:dst")
		}
		id, err := e.TxFile(engine.TxRequest{Src: src, Dst: dst, Class: class, Keep: flagKeep, Dest: dest})
		if err != nil {
			return err
		}
		logger.Info("cfdpd:send", slog.String("txn", id.String()), slog.String("src", src), slog.String("dst", dst))
	}
	if flagPlayback != "" {
		srcDir, dstDir, ok := strings.Cut(flagPlayback, ":")
		if !ok {
			return errors.New("-playback must be formatted as srcdir:dstdir")
		}
		err = e.PlaybackDir(engine.PlaybackRequest{SrcDir: srcDir, DstDir: dstDir, Class: class, Keep: flagKeep, Dest: dest})
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ticker := time.NewTicker(time.Second / time.Duration(ecfg.TicksPerSecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			report(e)
			return nil
		case <-ticker.C:
		}
		e.Cycle()
		if peer != nil {
			peer.Cycle()
		}
		if flagExitIdle && e.Idle() && (peer == nil || peer.Idle()) {
			report(e)
			return nil
		}
	}
}

func report(e *engine.Engine) {
	var hist []engine.History
	for ch := range e.NumChannels() {
		hist, _ = e.History(ch, hist[:0])
		for _, h := range hist {
			fmt.Printf("ch%d %s %s %s -> %s size=%d status=%s\n", ch, h.ID, h.Direction, h.SrcFile, h.DstFile, h.Size, h.Status)
		}
		ctr, _ := e.Counters(ch)
		fmt.Printf("ch%d recv=%+v\nch%d sent=%+v\nch%d fault=%+v\n", ch, ctr.Recv, ch, ctr.Sent, ch, ctr.Fault)
	}
}
