package loft_test

import (
	"testing"

	"loft-go/internal/loft"
)

func TestIsValidDatabase(t *testing.T) {
	header := []byte("SQLite format 3\x00")

	flipped := append([]byte(nil), header...)
	flipped[7] ^= 0x20

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "nil", data: nil, want: false},
		{name: "empty", data: []byte{}, want: false},
		{name: "header only", data: header, want: true},
		{name: "header and pages", data: append(append([]byte(nil), header...), make([]byte, 4096)...), want: true},
		{name: "one byte short", data: header[:15], want: false},
		{name: "missing trailing NUL", data: []byte("SQLite format 3 and more"), want: false},
		{name: "one flipped byte", data: flipped, want: false},
		{name: "text file", data: []byte("hello, world, this is text"), want: false},
		{name: "header at offset", data: append([]byte{0}, header...), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loft.IsValidDatabase(tt.data); got != tt.want {
				t.Errorf("IsValidDatabase() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValidDatabase_DoesNotModifyInput(t *testing.T) {
	data := append([]byte(nil), loft.DatabaseHeader...)
	before := string(data)
	loft.IsValidDatabase(data)
	if string(data) != before {
		t.Error("IsValidDatabase modified its input")
	}
}
