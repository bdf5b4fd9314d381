// Package link implements the UDP Link (C2): binds a local port, learns the
// peer address from the first inbound datagram, and drains every MAVLink
// frame out of each datagram before reading the next.
package link

import (
	"net"
	"sync"

	"mavgateway/errors"
	"mavgateway/log"
	"mavgateway/mavcodec"
)

// PeerChangeFunc is invoked once the peer address is adopted or changes.
type PeerChangeFunc func(old, new *net.UDPAddr)

// FrameFunc is invoked for every frame decoded out of an inbound datagram.
type FrameFunc func(mavcodec.Frame)

// Link owns the UDP socket and the receive goroutine. It is exclusively
// owned by the Session Facade (C8).
type Link struct {
	localPort uint16
	codec     *mavcodec.Codec
	onFrame   FrameFunc
	onPeer    PeerChangeFunc

	mu   sync.RWMutex
	conn *net.UDPConn
	peer *net.UDPAddr

	exit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLink creates a Link bound to localPort once Start is called.
func NewLink(localPort uint16, codec *mavcodec.Codec, onFrame FrameFunc, onPeer PeerChangeFunc) *Link {
	return &Link{
		localPort: localPort,
		codec:     codec,
		onFrame:   onFrame,
		onPeer:    onPeer,
		exit:      make(chan struct{}),
	}
}

// Start binds the socket and spawns the receive goroutine.
func (l *Link) Start() error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(l.localPort)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Wrap(errors.KindConnectionError, "bind error", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	l.wg.Add(1)
	go l.recvLoop()
	return nil
}

// Stop sets the exit flag, shuts the socket down to unblock the receive
// loop, and joins the goroutine. Idempotent; safe from destructor paths.
func (l *Link) Stop() {
	l.closeOnce.Do(func() {
		close(l.exit)
		l.mu.RLock()
		conn := l.conn
		l.mu.RUnlock()
		if conn != nil {
			_ = conn.Close()
		}
		l.wg.Wait()
	})
}

// Send serializes to the learned peer. Fails if no peer is known yet.
func (l *Link) Send(buf []byte) error {
	l.mu.RLock()
	conn := l.conn
	peer := l.peer
	l.mu.RUnlock()

	if peer == nil {
		return errors.NoDevice
	}
	if conn == nil {
		return errors.Wrap(errors.KindConnectionError, "link not started", nil)
	}
	if _, err := conn.WriteToUDP(buf, peer); err != nil {
		return errors.Wrap(errors.KindConnectionError, "send failed", err)
	}
	return nil
}

// Peer returns the currently learned peer address, or nil.
func (l *Link) Peer() *net.UDPAddr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.peer
}

func (l *Link) recvLoop() {
	defer l.wg.Done()

	buf := make([]byte, 2048)
	for {
		select {
		case <-l.exit:
			return
		default:
		}

		l.mu.RLock()
		conn := l.conn
		l.mu.RUnlock()

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.exit:
				return
			default:
			}
			log.With(map[string]interface{}{"status": "recv_error"}).WithError(err).Warn("udp link read failed")
			return
		}

		l.adoptPeer(from)

		frames, err := l.codec.Decode(buf[:n])
		if err != nil {
			log.With(map[string]interface{}{"status": "decode_error"}).WithError(err).Warn("mavlink decode failed")
			continue
		}
		for _, f := range frames {
			l.onFrame(f)
		}
	}
}

func (l *Link) adoptPeer(from *net.UDPAddr) {
	l.mu.Lock()
	old := l.peer
	changed := old == nil || old.String() != from.String()
	if changed {
		l.peer = from
	}
	l.mu.Unlock()

	if changed {
		log.With(map[string]interface{}{"peer": from.String(), "status": "peer_adopted"}).Info("udp link learned new peer")
		if l.onPeer != nil {
			l.onPeer(old, from)
		}
	}
}
