package loader

import (
	"testing"

	"github.com/nalgeon/be"
)

func TestDetectExtension(t *testing.T) {
	tests := []struct {
		name      string
		magic     []byte
		mimeTypes []string
		want      string
	}{
		{"jpeg_signature", []byte{0xFF, 0xD8, 0xFF, 0xE0}, nil, ".jpg"},
		{"png_signature", []byte("\x89PNG\r\n\x1a\n"), []string{"image/jpeg"}, ".png"},
		{"pdf_signature", []byte("%PDF-1.7"), nil, ".pdf"},
		{"mime_fallback", []byte("hello"), []string{"text/plain"}, ".txt"},
		{"second_mime", []byte("hello"), []string{"", "text/csv"}, ".csv"},
		{"header_params", []byte("hello"), []string{"Text/Plain; charset=utf-8"}, ".txt"},
		{"unknown", []byte("hello"), []string{"application/x-foo"}, ".bin"},
		{"empty", nil, nil, ".bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be.Equal(t, detectExtension(tt.magic, tt.mimeTypes...), tt.want)
		})
	}
}
