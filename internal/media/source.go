package media

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrInvalidSource is returned when a media location cannot be handed to an engine.
var ErrInvalidSource = errors.New("invalid media source")

// Kind tells where a media location points.
type Kind int

const (
	KindFile Kind = iota
	KindNetwork
	KindAsset
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindNetwork:
		return "network"
	case KindAsset:
		return "asset"
	default:
		return "unknown"
	}
}

// AssetScheme prefixes in-app asset keys when rendered as a URI.
const AssetScheme = "asset"

// Source is an immutable media location plus optional per-source HTTP headers.
// Build one with File, Network or Asset.
type Source struct {
	kind     Kind
	location string
	headers  map[string]string
}

// File returns a source for a local file path.
func File(path string) Source {
	return Source{kind: KindFile, location: path}
}

// Network returns a source for a remote URI. headers is copied.
func Network(uri string, headers map[string]string) Source {
	return Source{kind: KindNetwork, location: uri, headers: maps.Clone(headers)}
}

// Asset returns a source for an asset key bundled with the host application.
// Engines resolve the key against their own asset directory; one without an
// asset directory reports the source as unplayable.
func Asset(key string) Source {
	return Source{kind: KindAsset, location: key}
}

func (s Source) Kind() Kind { return s.kind }

func (s Source) Location() string { return s.location }

// Headers returns a copy of the HTTP headers sent when fetching the source.
func (s Source) Headers() map[string]string { return maps.Clone(s.headers) }

// URI renders the source as a single URI string.
func (s Source) URI() string {
	switch s.kind {
	case KindFile:
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(s.location)}).String()
	case KindAsset:
		return AssetScheme + ":///" + strings.TrimPrefix(s.location, "/")
	default:
		return s.location
	}
}

func (s Source) String() string {
	return s.kind.String() + ":" + s.location
}

// Validate reports whether the location is well formed enough to hand to an
// engine. Schemes, reachability and existence are left to the engine, which
// reports them as playback errors.
func (s Source) Validate() error {
	l := strings.TrimSpace(s.location)
	if l == "" {
		return fmt.Errorf("%w: empty location", ErrInvalidSource)
	}
	if strings.ContainsFunc(l, unicode.IsControl) {
		return fmt.Errorf("%w: control characters in location", ErrInvalidSource)
	}

	switch s.kind {
	case KindFile, KindAsset:
		return nil
	case KindNetwork:
		if _, err := url.Parse(l); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		for k, v := range s.headers {
			if strings.ContainsAny(k+v, "\r\n") {
				return fmt.Errorf("%w: header %q contains line breaks", ErrInvalidSource, k)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidSource, int(s.kind))
	}
}

// Parse guesses the kind of a location coming from a remote controller:
// URIs with a scheme are network sources (file:// becomes a file source),
// asset:/// becomes an asset, anything else is a local path.
func Parse(location string, headers map[string]string) Source {
	l := strings.TrimSpace(location)
	if l == "" {
		return File("")
	}
	u, err := url.Parse(l)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 { // "C:\..." parses with scheme "c"
		return File(filepath.Clean(l))
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return File(filepath.FromSlash(u.Path))
	case AssetScheme:
		return Asset(strings.TrimPrefix(u.Path, "/"))
	default:
		return Network(l, headers)
	}
}
