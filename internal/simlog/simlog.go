// Package simlog writes the simulator's event log: one line per event, in
// the fixed format spec.md §6 defines as the stable surface consumed by
// the (out-of-scope) offline plotting utilities:
//
//	"<virtual_time:10.4f> <event-name> <args...>"
//
// It is written through an afero.Fs so tests can point it at an in-memory
// filesystem instead of a real file, the way the teacher's own config/log
// handling is abstracted over afero.
package simlog

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/afero"

	"github.com/datawire/netsim/internal/vtime"
)

// Link trace event names (spec.md §6).
const (
	EventQueueStart     = "queue-start"
	EventQueueEnd       = "queue-end"
	EventQueueOverflow  = "queue-overflow"
	EventPacketLoss     = "packet-loss"
	EventTransmitStart  = "transmit-start"
	EventTransmitEnd    = "transmit-end"
	EventPropagateStart = "propagate-start"
	EventPropagateEnd   = "propagate-end"
)

// TCP trace event names (spec.md §6).
const (
	EventTCPSend           = "tcp-send"
	EventTCPRecv           = "tcp-recv"
	EventTCPState          = "tcp-state"
	EventTCPCwndAdjust     = "tcp-cwnd-adjust"
	EventTCPSsthreshAdjust = "tcp-ssthresh-adjust"
	EventTCPTimeoutAdjust  = "tcp-timeout-adjust"
	EventTCPLoss           = "tcp-loss"
)

// Logger appends formatted event lines to an underlying file, guarded by a
// mutex because several links/hosts/sockets may each want to log from
// their own callback without caring about each other's ordering beyond
// "one line at a time."
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	fs  afero.Fs
	f   afero.File
}

// Open creates (truncating) path on fs and returns a Logger that appends
// to it.
func Open(fs afero.Fs, path string) (*Logger, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("simlog: opening %s: %w", path, err)
	}
	return &Logger{out: f, fs: fs, f: f}, nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.f.Close()
}

// Event writes one event-log line at virtual time t.
func (l *Logger) Event(t vtime.Time, name string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %s", t.String(), name)
	for _, a := range args {
		fmt.Fprintf(l.out, " %v", a)
	}
	fmt.Fprintln(l.out)
}
