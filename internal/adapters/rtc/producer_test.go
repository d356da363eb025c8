package rtc

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestMarshalSendParameters(t *testing.T) {
	codec := webrtc.RTPCodecCapability{
		MimeType:  "audio/opus",
		ClockRate: 48000,
		Channels:  2,
	}
	params := webrtc.RTPSendParameters{
		Encodings: []webrtc.RTPEncodingParameters{
			{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: 12345}},
		},
	}

	raw := marshalSendParameters(codec, params)
	var got struct {
		Codecs []struct {
			MimeType    string `json:"mimeType"`
			PayloadType uint8  `json:"payloadType"`
			ClockRate   uint32 `json:"clockRate"`
			Channels    uint16 `json:"channels"`
		} `json:"codecs"`
		Encodings []struct {
			SSRC uint32 `json:"ssrc"`
		} `json:"encodings"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	if len(got.Codecs) != 1 {
		t.Fatalf("codecs = %d, want 1", len(got.Codecs))
	}
	c := got.Codecs[0]
	if c.MimeType != "audio/opus" || c.PayloadType != 111 || c.ClockRate != 48000 || c.Channels != 2 {
		t.Fatalf("codec = %+v", c)
	}
	if len(got.Encodings) != 1 || got.Encodings[0].SSRC != 12345 {
		t.Fatalf("encodings = %+v", got.Encodings)
	}
}
