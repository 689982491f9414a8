package testutil

import (
	"context"

	"loft-go/internal/loft"
)

// ValidDatabase returns bytes that pass the database header check, followed by payload.
func ValidDatabase(payload string) []byte {
	data := append([]byte(nil), loft.DatabaseHeader...)
	return append(data, payload...)
}

// CorruptDatabase returns bytes that fail the header check.
func CorruptDatabase() []byte {
	return []byte("this is not a database, just some text")
}

// StaticSeeder seeds every workspace with ValidDatabase(Payload).
type StaticSeeder struct {
	Payload string
	Err     error
}

func (s StaticSeeder) Seed(context.Context) ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return ValidDatabase(s.Payload), nil
}
