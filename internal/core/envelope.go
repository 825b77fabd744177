package core

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/domain"
)

type EnvelopeType string

const (
	EnvelopeOffer  EnvelopeType = "offer"
	EnvelopeAnswer EnvelopeType = "answer"
	EnvelopeICE    EnvelopeType = "ice"
	EnvelopeBye    EnvelopeType = "bye"
)

// IsEnvelopeType reports whether t names one of the call signaling messages.
func IsEnvelopeType(t string) bool {
	switch EnvelopeType(t) {
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeICE, EnvelopeBye:
		return true
	}
	return false
}

// Envelope is the unit exchanged with the signaling server:
//
//	{"type": "offer"|"answer"|"ice"|"bye", "sessionId": "...", "payload": {...}}
type Envelope struct {
	Type      EnvelopeType     `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// Description is the payload of offer and answer envelopes.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the payload of ice envelopes.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Bye is the payload of bye envelopes.
type Bye struct {
	Reason string `json:"reason,omitempty"`
}

func NewOfferEnvelope(sid domain.SessionID, desc webrtc.SessionDescription) Envelope {
	return newEnvelope(EnvelopeOffer, sid, Description{Type: desc.Type.String(), SDP: desc.SDP})
}

func NewAnswerEnvelope(sid domain.SessionID, desc webrtc.SessionDescription) Envelope {
	return newEnvelope(EnvelopeAnswer, sid, Description{Type: desc.Type.String(), SDP: desc.SDP})
}

func NewCandidateEnvelope(sid domain.SessionID, c webrtc.ICECandidateInit) Envelope {
	return newEnvelope(EnvelopeICE, sid, Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func NewByeEnvelope(sid domain.SessionID, reason string) Envelope {
	return newEnvelope(EnvelopeBye, sid, Bye{Reason: reason})
}

func newEnvelope(t EnvelopeType, sid domain.SessionID, payload any) Envelope {
	// Payload structs contain only strings and pointers to them; Marshal cannot fail.
	raw, _ := json.Marshal(payload)
	return Envelope{Type: t, SessionID: sid, Payload: raw}
}

// ParseEnvelope decodes and validates a wire message. All validation errors
// wrap domain.ErrMalformed.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) Validate() error {
	if !IsEnvelopeType(string(e.Type)) {
		return fmt.Errorf("%w: unsupported type %q", domain.ErrMalformed, e.Type)
	}
	if e.SessionID == "" {
		return fmt.Errorf("%w: %s envelope missing sessionId", domain.ErrMalformed, e.Type)
	}
	switch e.Type {
	case EnvelopeOffer, EnvelopeAnswer:
		_, err := e.Description()
		return err
	case EnvelopeICE:
		_, err := e.Candidate()
		return err
	}
	return nil
}

func (e Envelope) Marshal() (Frame, error) {
	return json.Marshal(e)
}

// Description decodes the payload of an offer or answer envelope.
func (e Envelope) Description() (webrtc.SessionDescription, error) {
	if e.Type != EnvelopeOffer && e.Type != EnvelopeAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s envelope has no description", domain.ErrMalformed, e.Type)
	}
	var d Description
	if err := decodePayload(e.Payload, &d); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if d.Type == "" {
		d.Type = string(e.Type)
	}
	if d.Type != string(e.Type) {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s envelope carries sdp type %q", domain.ErrMalformed, e.Type, d.Type)
	}
	if d.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s envelope missing sdp", domain.ErrMalformed, e.Type)
	}
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}, nil
}

// Candidate decodes the payload of an ice envelope. An empty candidate string
// is the end-of-candidates marker and is accepted.
func (e Envelope) Candidate() (webrtc.ICECandidateInit, error) {
	if e.Type != EnvelopeICE {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %s envelope has no candidate", domain.ErrMalformed, e.Type)
	}
	var c Candidate
	if err := decodePayload(e.Payload, &c); err != nil {
		return webrtc.ICECandidateInit{}, err
	}
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}, nil
}

// Bye decodes the payload of a bye envelope. Missing payloads yield a zero Bye.
func (e Envelope) Bye() Bye {
	var b Bye
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &b)
	}
	return b
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: missing payload", domain.ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: payload: %v", domain.ErrMalformed, err)
	}
	return nil
}
