package tcp

// State is one of the eleven TCP states spec.md §3/§4.4.5 names. Unlike the
// teacher's simplified server-only state enum (pkg/vif/tcp/handler.go,
// which only ever runs as the accepting side of a TUN-backed connection),
// this one also covers the client path through SYN_SENT.
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateLastAck
	StateClosing
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

// legalNext maps each state to the set of states it may transition to,
// per the diagram in spec.md §4.4.5. setState (socket.go) silently refuses
// and logs any transition not present here, matching the teacher's
// illegalStateTransition behavior.
var legalNext = map[State]map[State]bool{
	StateClosed: {
		StateListen:  true,
		StateSynSent: true,
	},
	StateListen: {
		StateSynReceived: true,
	},
	StateSynSent: {
		StateSynReceived: true, // simultaneous SYN, not exercised by the seed suite but legal
		StateEstablished: true,
		StateClosed:      true,
	},
	StateSynReceived: {
		StateEstablished: true,
		StateFinWait1:    true, // active close before the final ACK of the handshake arrives
		StateCloseWait:   true,
		StateClosed:      true,
	},
	StateEstablished: {
		StateFinWait1:  true,
		StateCloseWait: true,
	},
	StateFinWait1: {
		StateFinWait2: true,
		StateClosing:  true,
		StateTimeWait: true,
	},
	StateFinWait2: {
		StateTimeWait: true,
	},
	StateClosing: {
		StateTimeWait: true,
	},
	StateCloseWait: {
		StateLastAck: true,
	},
	StateLastAck: {
		StateClosed: true,
	},
	StateTimeWait: {
		StateClosed: true,
	},
}

func isLegalTransition(from, to State) bool {
	if from == to {
		return true
	}
	next, ok := legalNext[from]
	return ok && next[to]
}
