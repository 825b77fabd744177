package rtc

import (
	"bytes"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestSilenceSource_NextPacket(t *testing.T) {
	s, err := NewSilenceSource("peer")
	if err != nil {
		t.Fatalf("new silence source: %v", err)
	}
	if s.Track().Kind() != webrtc.RTPCodecTypeAudio {
		t.Fatalf("track kind = %s", s.Track().Kind())
	}

	p1 := s.NextPacket()
	p2 := s.NextPacket()
	if p1.PayloadType != opusPayloadType || p1.Version != 2 {
		t.Fatalf("unexpected header: %+v", p1.Header)
	}
	if !bytes.Equal(p1.Payload, opusSilence) {
		t.Fatalf("payload = %x", p1.Payload)
	}
	if p2.SequenceNumber != p1.SequenceNumber+1 {
		t.Fatalf("sequence %d -> %d", p1.SequenceNumber, p2.SequenceNumber)
	}
	if p2.Timestamp-p1.Timestamp != silenceTimestampStep {
		t.Fatalf("timestamp step = %d", p2.Timestamp-p1.Timestamp)
	}
	if p1.SSRC != p2.SSRC {
		t.Fatalf("ssrc changed")
	}

	raw, err := p1.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(raw) != 12+len(opusSilence) {
		t.Fatalf("packet size = %d", len(raw))
	}
}

func TestLoggerFactory_Scopes(t *testing.T) {
	l := NewLoggerFactory().NewLogger("ice")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("candidate %s", "host")
	l.Warn("warn")
}
