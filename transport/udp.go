package transport

import (
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
)

// UDPConfig configures a UDP transport. Channel i sends to Remotes[i].
// All channels share one local socket; received datagrams are routed to the
// channel whose remote address matches the datagram source.
type UDPConfig struct {
	Local    string   `yaml:"local"`
	Remotes  []string `yaml:"remotes"`
	MTU      int      `yaml:"mtu"`
	QueueLen int      `yaml:"queue_len"`
}

// UDP carries one PDU per datagram.
type UDP struct {
	conn    *net.UDPConn
	remotes []netip.AddrPort
	box     mailbox
	out     []byte
	closed  atomic.Bool
	done    chan struct{}
	logger
}

// ListenUDP binds the local address of cfg and starts the reader goroutine.
func ListenUDP(cfg UDPConfig, log *slog.Logger) (*UDP, error) {
	if len(cfg.Remotes) == 0 || cfg.MTU <= 0 || cfg.QueueLen <= 0 {
		return nil, errors.New("udp: need remotes, MTU and queue length")
	}
	remotes := make([]netip.AddrPort, len(cfg.Remotes))
	for i, r := range cfg.Remotes {
		ap, err := netip.ParseAddrPort(r)
		if err != nil {
			return nil, err
		}
		remotes[i] = ap
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.Local)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	u := &UDP{
		conn:    conn,
		remotes: remotes,
		out:     make([]byte, cfg.MTU),
		done:    make(chan struct{}),
		logger:  logger{log: log},
	}
	u.box.init(len(remotes), cfg.MTU, cfg.QueueLen)
	go u.readLoop(cfg.MTU)
	u.debug("udp:listen", slog.String("local", conn.LocalAddr().String()), slog.Int("channels", len(remotes)))
	return u, nil
}

// LocalAddr returns the bound local address.
func (u *UDP) LocalAddr() netip.AddrPort {
	return u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (u *UDP) readLoop(mtu int) {
	defer close(u.done)
	buf := make([]byte, mtu+1)
	for {
		n, from, err := u.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if u.closed.Load() {
				return
			}
			u.warn("udp:read", slog.String("err", err.Error()))
			continue
		}
		if n > mtu {
			u.trace("udp:oversize", slog.String("from", from.String()))
			continue
		}
		ch := u.channelOf(from)
		if ch < 0 {
			u.trace("udp:unknown-peer", slog.String("from", from.String()))
			continue
		}
		u.box.put(ch, buf[:n])
	}
}

func (u *UDP) channelOf(from netip.AddrPort) int {
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	for i, r := range u.remotes {
		if r.Port() == from.Port() && (r.Addr().Unmap() == from.Addr() || r.Addr().IsUnspecified()) {
			return i
		}
	}
	return -1
}

// Recv returns the next PDU received on channel ch or nil.
func (u *UDP) Recv(ch int) []byte { return u.box.get(ch) }

// Buffer returns the outbound PDU buffer.
func (u *UDP) Buffer(ch int) []byte {
	if ch < 0 || ch >= len(u.remotes) {
		return nil
	}
	return u.out
}

// Send writes msg as a single datagram to the remote of channel ch.
func (u *UDP) Send(ch int, msg []byte) error {
	if ch < 0 || ch >= len(u.remotes) {
		return errInvalidChannel
	} else if u.closed.Load() {
		return errClosed
	}
	_, err := u.conn.WriteToUDPAddrPort(msg, u.remotes[ch])
	return err
}

// Close closes the socket and waits for the reader goroutine to exit.
func (u *UDP) Close() error {
	if u.closed.Swap(true) {
		return errClosed
	}
	err := u.conn.Close()
	<-u.done
	return err
}
