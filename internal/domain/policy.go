package domain

import (
	"fmt"
	"strings"
)

// DMPolicy governs whether messages from unrecognized senders are processed.
type DMPolicy string

const (
	DMPolicyOpen      DMPolicy = "open"
	DMPolicyAllowlist DMPolicy = "allowlist"
	DMPolicyPairing   DMPolicy = "pairing"
	DMPolicyDisabled  DMPolicy = "disabled"
)

// ParseDMPolicy parses a policy name. Empty means pairing.
func ParseDMPolicy(s string) (DMPolicy, error) {
	switch p := DMPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DMPolicyPairing, nil
	case DMPolicyOpen, DMPolicyAllowlist, DMPolicyPairing, DMPolicyDisabled:
		return p, nil
	default:
		return "", fmt.Errorf("unknown dm policy %q", s)
	}
}
