package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRoomID(t *testing.T) {
	if err := ValidateRoomID("abc123"); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
	for _, id := range []RoomID{"", "abc", "abc1234"} {
		if err := ValidateRoomID(id); !errors.Is(err, ErrInvalidRoomID) {
			t.Errorf("ValidateRoomID(%q) = %v, want ErrInvalidRoomID", id, err)
		}
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("alice"); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
	if err := ValidateName(""); !errors.Is(err, ErrNameEmpty) {
		t.Errorf("empty name: %v, want ErrNameEmpty", err)
	}
	if err := ValidateName(strings.Repeat("x", MaxNameLen)); err != nil {
		t.Errorf("name at limit rejected: %v", err)
	}
	if err := ValidateName(strings.Repeat("x", MaxNameLen+1)); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("oversized name: %v, want ErrNameTooLong", err)
	}
}

func TestDefaultCodecs(t *testing.T) {
	codecs := DefaultCodecs()
	kinds := map[MediaKind]int{}
	for _, c := range codecs {
		kinds[c.Kind]++
		if c.ClockRate == 0 {
			t.Errorf("codec %s has no clock rate", c.MimeType)
		}
	}
	if kinds[MediaAudio] != 1 || kinds[MediaVideo] != 2 {
		t.Fatalf("codec kinds = %v, want 1 audio and 2 video", kinds)
	}
}
