package loft

import (
	"path/filepath"
	"strings"
)

// DefaultCloudMarkers are path fragments that identify folders managed by a
// cloud sync agent (iCloud Drive and its container layout).
var DefaultCloudMarkers = []string{
	"Library/Mobile Documents/",
	"com~apple~CloudDocs",
	"iCloud Drive",
	"iCloudDrive",
}

// PathClass is the result of classifying a workspace path.
type PathClass struct {
	IsCloudSynced bool
}

// PathClassifier decides whether a path lives inside a cloud-synced folder.
// Cloud-synced paths may be placeholders that have not been downloaded yet, so
// the open protocol waits for them instead of failing immediately.
type PathClassifier struct {
	markers []string
}

// NewPathClassifier creates a classifier using DefaultCloudMarkers plus any extra markers.
func NewPathClassifier(extra ...string) *PathClassifier {
	markers := make([]string, 0, len(DefaultCloudMarkers)+len(extra))
	for _, m := range append(append([]string{}, DefaultCloudMarkers...), extra...) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		markers = append(markers, strings.ToLower(filepath.ToSlash(m)))
	}
	return &PathClassifier{markers: markers}
}

// Classify matches path against the known cloud-sync markers, case-insensitively.
func (c *PathClassifier) Classify(path string) PathClass {
	normalized := strings.ToLower(filepath.ToSlash(path))
	for _, m := range c.markers {
		if strings.Contains(normalized, m) {
			return PathClass{IsCloudSynced: true}
		}
	}
	return PathClass{}
}
