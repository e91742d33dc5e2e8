package meshtastic

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/hooks"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/soyeahso/meshgate/internal/store"
)

// pairingAlphabet omits 0/O and 1/I so codes survive being read aloud.
const pairingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// PairingCodeLength is the number of characters in a pairing code.
const PairingCodeLength = 8

// NewPairingCode returns a random code drawn from pairingAlphabet.
func NewPairingCode() (string, error) {
	var buf [PairingCodeLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating pairing code: %w", err)
	}
	// len(pairingAlphabet) is 32, so the modulo is unbiased.
	for i, b := range buf {
		buf[i] = pairingAlphabet[int(b)%len(pairingAlphabet)]
	}
	return string(buf[:]), nil
}

// ChallengeText is the message sent to an unrecognized sender.
func ChallengeText(code string) string {
	return fmt.Sprintf("Not paired yet. Pairing code: %s\nAsk the operator to run: meshgate pairing approve %s", code, code)
}

// Pairing issues challenges to unrecognized senders under the pairing policy.
type Pairing struct {
	accountID string
	store     PairingStore
	sender    Sender
	hooks     Hooks
	log       *logging.Logger
	newCode   func() (string, error)
}

// NewPairing creates the pairing flow for one account.
func NewPairing(accountID string, sender Sender, rt Runtime) *Pairing {
	return &Pairing{
		accountID: accountID,
		store:     rt.Pairing,
		sender:    sender,
		hooks:     rt.Hooks,
		log:       rt.Log.Sub("pairing"),
		newCode:   NewPairingCode,
	}
}

// Challenge records a pending request for msg's sender and, only when the
// request is new, sends the challenge to the sender. It reports whether a
// challenge was sent. A failed send is logged and leaves the request in
// place, so the sender is not challenged again until it expires.
func (p *Pairing) Challenge(ctx context.Context, msg domain.InboundMessage) (bool, error) {
	code, err := p.newCode()
	if err != nil {
		return false, err
	}

	req, created, err := p.store.CreateIfAbsent(ctx, store.PairingRequest{
		Channel:  domain.ChannelMeshtastic,
		SenderID: msg.From,
		Code:     code,
		Name:     msg.FromName,
	})
	if err != nil {
		return false, fmt.Errorf("recording pairing request: %w", err)
	}
	if !created {
		p.log.Debug().Str("from", msg.From).Msg("pairing already pending")
		return false, nil
	}

	p.log.Info().
		Str("from", msg.From).
		Str("name", req.Name).
		Str("code", req.Code).
		Msg("pairing requested")
	p.hooks.Emit(ctx, hooks.EventPairingRequested, p.accountID, map[string]any{
		"from": msg.From,
		"name": req.Name,
		"code": req.Code,
	})

	target := domain.Target{ChannelIndex: msg.ChannelIndex, To: msg.From}
	if err := p.sender.Send(ctx, target, ChallengeText(req.Code)); err != nil {
		p.log.Error().Err(err).Str("from", msg.From).Msg("sending pairing challenge failed")
		return false, nil
	}
	return true, nil
}
