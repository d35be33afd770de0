package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaObjectKey(t *testing.T) {
	tests := []struct {
		name     string
		mimetype string
		want     string
	}{
		{"jpeg", "image/jpeg", "inst/5511999999999_s.whatsapp.net/MSG1.jpg"},
		{"png", "image/png", "inst/5511999999999_s.whatsapp.net/MSG1.png"},
		{"mp4", "video/mp4", "inst/5511999999999_s.whatsapp.net/MSG1.mp4"},
		{"voice note", "audio/ogg; codecs=opus", "inst/5511999999999_s.whatsapp.net/MSG1.ogg"},
		{"unknown", "application/x-unknown-thing", "inst/5511999999999_s.whatsapp.net/MSG1.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MediaObjectKey("inst", "5511999999999@s.whatsapp.net", "MSG1", tt.mimetype)
			assert.Equal(t, tt.want, got)
		})
	}
}
