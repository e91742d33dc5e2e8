package domain

import "strings"

// Prefixes stripped from node ids, longest first.
var nodeIDPrefixes = []string{"meshtastic:", "mesh:"}

// WildcardAllow matches every sender in an allow list.
const WildcardAllow = "*"

// BroadcastTarget is the bridge's address for everyone on a channel.
const BroadcastTarget = "^all"

var broadcastIDs = map[string]bool{
	"^all":      true,
	"broadcast": true,
	"!ffffffff": true,
}

// NormalizeNodeID canonicalizes a node id: an optional case-insensitive
// channel prefix is removed, whitespace trimmed and the result lower-cased.
// NormalizeNodeID(NormalizeNodeID(s)) == NormalizeNodeID(s).
func NormalizeNodeID(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	for {
		stripped := false
		for _, p := range nodeIDPrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(s[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// SameNode reports whether two ids name the same node.
func SameNode(a, b string) bool {
	return NormalizeNodeID(a) == NormalizeNodeID(b)
}

// IsBroadcast reports whether id addresses every node on a channel.
func IsBroadcast(id string) bool {
	return broadcastIDs[NormalizeNodeID(id)]
}
