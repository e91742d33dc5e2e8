package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxChannelIndex is the highest channel slot a radio exposes.
const MaxChannelIndex = 7

// ErrInvalidTarget is returned for unparseable or out-of-range targets.
var ErrInvalidTarget = errors.New("invalid target")

// Target addresses an outbound transmission: a node id (or the broadcast
// address) on a channel index.
type Target struct {
	ChannelIndex int    `json:"channelIndex"`
	To           string `json:"to"`
}

// DirectTarget addresses a node on the primary channel.
func DirectTarget(node string) Target {
	return Target{To: NormalizeNodeID(node)}
}

// BroadcastOn addresses everyone on a channel index.
func BroadcastOn(index int) Target {
	return Target{ChannelIndex: index, To: BroadcastTarget}
}

// ParseTarget parses the textual form "ch<N>:<target>". Without the prefix
// the channel index is 0 and the whole string is the target.
func ParseTarget(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if len(s) > 2 && strings.EqualFold(s[:2], "ch") {
		if i := strings.IndexByte(s, ':'); i > 2 {
			if n, err := strconv.Atoi(s[2:i]); err == nil {
				if n < 0 || n > MaxChannelIndex {
					return Target{}, fmt.Errorf("%w: channel index %d out of range 0-%d", ErrInvalidTarget, n, MaxChannelIndex)
				}
				return validTarget(n, s[i+1:])
			}
		}
	}
	return validTarget(0, s)
}

func validTarget(index int, to string) (Target, error) {
	to = NormalizeNodeID(to)
	if to == "" {
		return Target{}, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	return Target{ChannelIndex: index, To: to}, nil
}

// String renders the textual form; index 0 renders without a prefix.
func (t Target) String() string {
	if t.ChannelIndex == 0 {
		return t.To
	}
	return fmt.Sprintf("ch%d:%s", t.ChannelIndex, t.To)
}
