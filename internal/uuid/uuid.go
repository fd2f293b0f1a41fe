package uuid

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const prefix = "uuid:"

// LoadOrCreate reads the device UDN from path, generating and persisting a
// new one on first run. fallback is returned when nothing can be read or
// written.
func LoadOrCreate(path, fallback string) (string, error) {
	if b, err := os.ReadFile(path); err == nil {
		if s := Normalize(string(b)); s != "" {
			return s, nil
		}
	}

	udn := prefix + uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fallback, err
	}
	if err := os.WriteFile(path, []byte(udn+"\n"), 0o644); err != nil {
		return fallback, err
	}
	return udn, nil
}

// Normalize trims s and adds the uuid: prefix. Values that are not UUIDs
// normalize to "".
func Normalize(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), prefix)
	if _, err := uuid.Parse(s); err != nil {
		return ""
	}
	return prefix + s
}
