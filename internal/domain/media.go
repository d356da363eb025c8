package domain

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// RTPCodecCapability describes one codec a router can route.
type RTPCodecCapability struct {
	Kind       MediaKind         `json:"kind"`
	MimeType   string            `json:"mimeType"`
	ClockRate  uint32            `json:"clockRate"`
	Channels   uint16            `json:"channels,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// RTPCapabilities is the capability descriptor negotiated between a
// router and its clients. It is persisted to the store as an opaque blob
// so any instance can answer capability queries for the room.
type RTPCapabilities struct {
	Codecs []RTPCodecCapability `json:"codecs"`
}

// DefaultCodecs is the codec set every classroom router is created with.
func DefaultCodecs() []RTPCodecCapability {
	return []RTPCodecCapability{
		{
			Kind:      MediaAudio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      MediaVideo,
			MimeType:  "video/VP8",
			ClockRate: 90000,
			Parameters: map[string]string{
				"x-google-start-bitrate": "1000",
			},
		},
		{
			Kind:      MediaVideo,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: map[string]string{
				"packetization-mode":      "1",
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": "1",
			},
		},
	}
}
