package offline

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var (
	// ErrGenerationNotFound indicates a cache generation that does not exist.
	ErrGenerationNotFound = errors.New("offline: cache generation not found")
	// ErrInvalidGeneration indicates an empty generation name.
	ErrInvalidGeneration = errors.New("offline: invalid cache generation name")
)

// Entry is a cached response keyed by request identity within one generation.
type Entry struct {
	Key      string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// RequestKey returns the identity of a request: method plus absolute URL.
func RequestKey(method, absoluteURL string) string {
	return strings.ToUpper(method) + " " + absoluteURL
}

func (e Entry) clone() Entry {
	copied := e
	copied.Header = e.Header.Clone()
	copied.Body = append([]byte(nil), e.Body...)
	return copied
}

func encodeHeader(header http.Header) (string, error) {
	if len(header) == 0 {
		return "{}", nil
	}
	payload, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func decodeHeader(raw string) (http.Header, error) {
	header := http.Header{}
	if strings.TrimSpace(raw) == "" {
		return header, nil
	}
	if err := json.Unmarshal([]byte(raw), &header); err != nil {
		return nil, err
	}
	return header, nil
}

func validateGeneration(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidGeneration
	}
	return nil
}
