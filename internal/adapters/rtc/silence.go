package rtc

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	opusPayloadType = 111
	opusClockRate   = 48000
	silenceInterval = 20 * time.Millisecond
	// samples per 20ms opus frame at 48kHz
	silenceTimestampStep = opusClockRate / 50
)

// opusSilence is a single opus frame decoding to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource owns a local opus track and feeds it RTP silence frames.
// It is the capture source for peers without a microphone: sessions only
// reference its track, the source stops it.
type SilenceSource struct {
	track *webrtc.TrackLocalStaticRTP
	ssrc  uint32
	seq   uint16
	ts    uint32
}

func NewSilenceSource(streamID string) (*SilenceSource, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  2,
	}, "audio", streamID)
	if err != nil {
		return nil, err
	}
	return &SilenceSource{
		track: track,
		ssrc:  rand.Uint32(),
		seq:   uint16(rand.UintN(1 << 16)),
		ts:    rand.Uint32(),
	}, nil
}

func (s *SilenceSource) Track() webrtc.TrackLocal { return s.track }

// NextPacket builds the next silence packet and advances sequence and timestamp.
func (s *SilenceSource) NextPacket() *rtp.Packet {
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
			Marker:         false,
		},
		Payload: opusSilence,
	}
	s.seq++
	s.ts += silenceTimestampStep
	return p
}

// Run writes a silence frame every 20ms until ctx is done.
func (s *SilenceSource) Run(ctx context.Context) error {
	t := time.NewTicker(silenceInterval)
	defer t.Stop()
	log.Info().Str("module", "rtc.silence").Str("track_id", s.track.ID()).Msg("silence source started")
	defer log.Info().Str("module", "rtc.silence").Str("track_id", s.track.ID()).Msg("silence source stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := s.track.WriteRTP(s.NextPacket()); err != nil {
				log.Debug().Err(err).Str("module", "rtc.silence").Msg("write rtp")
			}
		}
	}
}
