package engine

import (
	"fmt"
)

type DecisionType int

const (
	Drop DecisionType = iota
	FloodAll
	ForwardToPort
	ReplyLocally
)

func (t DecisionType) String() string {
	switch t {
	case FloodAll:
		return "flood"
	case ForwardToPort:
		return "forward"
	case ReplyLocally:
		return "reply"
	}
	return "drop"
}

// Why a decision was taken. Used for logs and counters.
type Cause int

const (
	CauseMisconfigured          Cause = iota // switch has no role entry
	CauseIllegalDirection                    // ARP/DHCP on a port of the wrong direction
	CauseUnknownUnicastUplink                // unknown unicast ARP from the uplink
	CauseInvalidDownlinkUnicast              // unicast ARP that the data plane should have handled
	CauseProxied                             // ARP request answered for a well known identity
	CauseProxyIgnored                        // non request addressed to a well known identity
	CauseRelayed                             // static rules already relayed a copy
	CauseBroadcast                           // broadcast or multicast destination
	CauseLearned                             // destination found in the mac table
	CauseUnknownDest                         // destination not in the mac table
	CauseReplyFailed                         // ARP reply could not be built
	numCauses
)

var causeNames = [numCauses]string{
	"misconfigured",
	"illegal-direction",
	"unknown-unicast-uplink",
	"invalid-downlink-unicast",
	"proxied",
	"proxy-ignored",
	"relayed",
	"broadcast",
	"learned",
	"unknown-destination",
	"reply-failed",
}

func (c Cause) String() string {
	if c < 0 || c >= numCauses {
		return fmt.Sprintf("cause(%d)", int(c))
	}
	return causeNames[c]
}

// All causes in order, for counter tables
func Causes() []Cause {
	causes := make([]Cause, numCauses)
	for i := range causes {
		causes[i] = Cause(i)
	}
	return causes
}

// Outcome of classifying one frame. Port is set for ForwardToPort, Reply
// holds the synthetic frame for ReplyLocally.
type Decision struct {
	Type  DecisionType
	Port  uint32
	Reply []byte
	Cause Cause
}

func dropFrame(cause Cause) Decision {
	return Decision{Type: Drop, Cause: cause}
}

func floodFrame(cause Cause) Decision {
	return Decision{Type: FloodAll, Cause: cause}
}

func forwardTo(port uint32, cause Cause) Decision {
	return Decision{Type: ForwardToPort, Port: port, Cause: cause}
}

func replyLocally(reply []byte) Decision {
	return Decision{Type: ReplyLocally, Reply: reply, Cause: CauseProxied}
}

func (d Decision) String() string {
	if d.Type == ForwardToPort {
		return fmt.Sprintf("forward to %d (%s)", d.Port, d.Cause)
	}
	return fmt.Sprintf("%s (%s)", d.Type, d.Cause)
}
