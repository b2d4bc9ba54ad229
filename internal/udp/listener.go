package udp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/simracekit/pitwall/internal/errors"
	"github.com/simracekit/pitwall/internal/live"
)

// readDeadline bounds each blocking receive so cancellation is noticed
// promptly without closing the socket from another goroutine.
const readDeadline = 500 * time.Millisecond

// Counters are the listener's diagnostic totals. Drops are counted,
// never fatal.
type Counters struct {
	Received           uint64 `json:"received"`
	Applied            uint64 `json:"applied"`
	Skipped            uint64 `json:"skipped"` // recognized packet types not acted on
	Stale              uint64 `json:"stale"`   // rejected by the ordering guard
	DroppedTruncated   uint64 `json:"dropped_truncated"`
	DroppedUnsupported uint64 `json:"dropped_unsupported"`
	DroppedUnknown     uint64 `json:"dropped_unknown"`
}

// Listener owns the bound socket and feeds the live state.
type Listener struct {
	conn  *net.UDPConn
	state *live.State

	received           atomic.Uint64
	applied            atomic.Uint64
	skipped            atomic.Uint64
	stale              atomic.Uint64
	droppedTruncated   atomic.Uint64
	droppedUnsupported atomic.Uint64
	droppedUnknown     atomic.Uint64
}

// NewListener binds the telemetry port. An unbindable port is the one
// startup failure this component treats as fatal.
func NewListener(port int, state *live.State) (*Listener, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to bind udp port %d: %w", port, err))
	}
	return &Listener{conn: conn, state: state}, nil
}

// LocalPort returns the bound port (useful when started on port 0).
func (l *Listener) LocalPort() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// Run receives datagrams until the context is cancelled. Malformed
// datagrams are dropped and counted; the loop never dies because of
// one.
func (l *Listener) Run(ctx context.Context) error {
	defer l.conn.Close()
	log.Printf("[udp] listening on %s", l.conn.LocalAddr())

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[udp] listener stopping: %v", ctx.Err())
			return nil
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return errors.NewInternal(err)
		}
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if stderrors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.NewInternal(err)
		}

		l.received.Add(1)
		l.handle(buf[:n])
	}
}

// handle decodes one datagram and applies its events. Decode work per
// datagram stays short so the socket buffer does not back up.
func (l *Listener) handle(b []byte) {
	events, err := Decode(b)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrTruncated):
			l.droppedTruncated.Add(1)
		case errors.Is(err, errors.ErrUnsupportedVersion):
			l.droppedUnsupported.Add(1)
		case errors.Is(err, errors.ErrUnknownType):
			l.droppedUnknown.Add(1)
		}
		log.Printf("[udp] dropping datagram: %v", err)
		return
	}
	if len(events) == 0 {
		l.skipped.Add(1)
		return
	}
	for _, ev := range events {
		if ev.Apply(l.state) {
			l.applied.Add(1)
		} else {
			l.stale.Add(1)
		}
	}
}

// Counters returns a snapshot of the diagnostic totals.
func (l *Listener) Counters() Counters {
	return Counters{
		Received:           l.received.Load(),
		Applied:            l.applied.Load(),
		Skipped:            l.skipped.Load(),
		Stale:              l.stale.Load(),
		DroppedTruncated:   l.droppedTruncated.Load(),
		DroppedUnsupported: l.droppedUnsupported.Load(),
		DroppedUnknown:     l.droppedUnknown.Load(),
	}
}
