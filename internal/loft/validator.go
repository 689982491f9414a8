package loft

import "bytes"

// DatabaseHeader is the 16-byte prefix every SQLite 3 database file starts with.
var DatabaseHeader = []byte("SQLite format 3\x00")

// IsValidDatabase reports whether data looks like a complete SQLite database file.
// It only inspects the header: buffers shorter than the header, empty buffers and
// buffers with any mismatching header byte are rejected. It never panics.
func IsValidDatabase(data []byte) bool {
	if len(data) < len(DatabaseHeader) {
		return false
	}
	return bytes.Equal(data[:len(DatabaseHeader)], DatabaseHeader)
}
