package engine

import (
	"log/slog"
	"path/filepath"

	"github.com/soypat/cfdp"
)

// PlaybackRequest describes a directory whose regular files are all sent.
type PlaybackRequest struct {
	SrcDir   string
	DstDir   string
	Class    cfdp.Class
	Keep     bool
	Channel  uint8
	Priority uint8
	Dest     cfdp.EntityID
}

// playback sends the files of a directory snapshot, keeping at most
// TransactionsPerPlayback of them in flight.
type playback struct {
	active   bool
	req      PlaybackRequest
	names    []string
	next     int
	inFlight int
}

type poll struct {
	dir   PollDir
	timer timer
	// pb is the index of the playback started by this poll, -1 if none.
	pb int
}

// PlaybackDir snapshots the regular files of req.SrcDir and sends each of them
// to req.DstDir over the following cycles.
func (e *Engine) PlaybackDir(req PlaybackRequest) error {
	c, err := e.channel(int(req.Channel))
	if err != nil {
		return err
	} else if req.Class != cfdp.Class1 && req.Class != cfdp.Class2 {
		return errBadClass
	} else if req.Dest == e.cfg.LocalEID {
		return errLocalDest
	}
	_, err = e.startPlayback(c, req)
	return err
}

func (e *Engine) startPlayback(c *channel, req PlaybackRequest) (int, error) {
	slot := -1
	for i := range c.playbacks {
		if !c.playbacks[i].active {
			slot = i
			break
		}
	}
	if slot < 0 {
		return -1, errNoPlayback
	}
	entries, err := e.fs.ReadDir(req.SrcDir)
	if err != nil {
		return -1, err
	}
	pb := &c.playbacks[slot]
	*pb = playback{active: true, req: req, names: pb.names[:0]}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			pb.names = append(pb.names, entry.Name())
		}
	}
	e.debug("engine:playback-start", slog.Int("ch", int(c.num)), slog.String("dir", req.SrcDir), slog.Int("files", len(pb.names)))
	return slot, nil
}

// servicePlayback enqueues files of active playbacks and starts due directory polls.
func (e *Engine) servicePlayback(c *channel) {
	perPlayback := max(c.cfg.TransactionsPerPlayback, 1)
	for i := range c.playbacks {
		pb := &c.playbacks[i]
		for pb.active && pb.inFlight < perPlayback && pb.next < len(pb.names) {
			name := pb.names[pb.next]
			_, err := e.txFile(TxRequest{
				Src:      filepath.Join(pb.req.SrcDir, name),
				Dst:      filepath.Join(pb.req.DstDir, name),
				Class:    pb.req.Class,
				Keep:     pb.req.Keep,
				Channel:  c.num,
				Priority: pb.req.Priority,
				Dest:     pb.req.Dest,
			}, int32(i))
			if err == cfdp.ErrNoResource {
				break // Retry next cycle.
			} else if err != nil {
				e.warn("engine:playback", slog.String("file", name), slog.String("err", err.Error()))
				pb.next++
				continue
			}
			pb.next++
			pb.inFlight++
		}
		if pb.active && pb.inFlight == 0 && pb.next >= len(pb.names) {
			pb.active = false
			e.debug("engine:playback-done", slog.Int("ch", int(c.num)), slog.String("dir", pb.req.SrcDir))
		}
	}
	for i := range c.polls {
		p := &c.polls[i]
		if !p.dir.Enabled {
			continue
		}
		if p.pb >= 0 && c.playbacks[p.pb].active {
			continue
		}
		p.pb = -1
		if !p.timer.tick() {
			continue
		}
		p.timer.set(e.cfg.ticks(p.dir.IntervalSec))
		slot, err := e.startPlayback(c, PlaybackRequest{
			SrcDir:   p.dir.SrcDir,
			DstDir:   p.dir.DstDir,
			Class:    p.dir.Class,
			Keep:     p.dir.Keep,
			Channel:  c.num,
			Priority: p.dir.Priority,
			Dest:     p.dir.Dest,
		})
		if err != nil {
			e.warn("engine:poll", slog.String("dir", p.dir.SrcDir), slog.String("err", err.Error()))
			continue
		}
		p.pb = slot
	}
}

func (e *Engine) playbackDone(c *channel, t *transaction) {
	if t.playback < 0 || int(t.playback) >= len(c.playbacks) {
		return
	}
	pb := &c.playbacks[t.playback]
	if pb.inFlight > 0 {
		pb.inFlight--
	}
	t.playback = -1
}
