package gharchive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	perr "gharchive/internal/platform/errors"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const (
	dateLayout   = "2006-01-02"
	legacyLayout = "2006/01/02 15:04:05 -0700"
	snippetMax   = 256
)

// LineError describes an archive line that is not a decodable event
type LineError struct {
	Line    int    // 1-based line number within the archive
	Snippet string // UTF-8 repaired, truncated raw text
	Err     error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v (%q)", e.Line, e.Err, e.Snippet)
}

func (e *LineError) Unwrap() error { return e.Err }

func lineError(n int, line []byte, cause error) error {
	le := &LineError{Line: n, Snippet: snippet(line), Err: cause}
	return perr.Wrap(le, perr.ErrorCodeEventDecode, "decode event")
}

// wireEvent accepts both the modern and the legacy line shapes
type wireEvent struct {
	ID              json.RawMessage `json:"id"`
	Type            string          `json:"type"`
	Actor           json.RawMessage `json:"actor"`
	ActorAttributes *legacyActor    `json:"actor_attributes"`
	Repo            *Repo           `json:"repo"`
	Repository      *legacyRepo     `json:"repository"`
	Org             *Org            `json:"org"`
	Payload         json.RawMessage `json:"payload"`
	Public          bool            `json:"public"`
	CreatedAt       string          `json:"created_at"`
}

// DecodeEvent parses one archive line into an Event
// The line must be a JSON object with a type and a parseable created_at
func DecodeEvent(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Event{}, errors.New("not a JSON object")
	}
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(w.Type) == "" {
		return Event{}, errors.New("missing type")
	}
	created, err := parseCreatedAt(w.CreatedAt)
	if err != nil {
		return Event{}, err
	}
	id, err := decodeID(w.ID)
	if err != nil {
		return Event{}, err
	}
	actor, err := decodeActor(w.Actor, w.ActorAttributes)
	if err != nil {
		return Event{}, err
	}

	ev := Event{
		ID:        id,
		Type:      w.Type,
		Actor:     actor,
		Org:       w.Org,
		Payload:   w.Payload,
		Public:    w.Public,
		CreatedAt: created,
	}
	switch {
	case w.Repo != nil:
		ev.Repo = *w.Repo
	case w.Repository != nil:
		ev.Repo = Repo{ID: w.Repository.ID, Name: w.Repository.fullName(), URL: w.Repository.URL}
	}
	fillSyntheticIDs(&ev)
	return ev, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("id: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id: %w", err)
	}
	return n.String(), nil
}

func decodeActor(raw json.RawMessage, attrs *legacyActor) (Actor, error) {
	var a Actor
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || string(raw) == "null":
	case raw[0] == '"':
		// legacy: "actor": "login"
		if err := json.Unmarshal(raw, &a.Login); err != nil {
			return Actor{}, fmt.Errorf("actor: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &a); err != nil {
			return Actor{}, fmt.Errorf("actor: %w", err)
		}
	}
	if attrs != nil {
		if a.Login == "" {
			a.Login = attrs.Login
		}
		if a.GravatarID == "" {
			a.GravatarID = attrs.GravatarID
		}
	}
	return a, nil
}

func parseCreatedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing created_at")
	}
	for _, layout := range []string{time.RFC3339Nano, legacyLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("created_at %q: unrecognized timestamp", s)
}

// snippet repairs ill-formed UTF-8 and truncates b for diagnostics
func snippet(b []byte) string {
	if len(b) > 2*snippetMax {
		b = b[:2*snippetMax]
	}
	fixed, _, err := transform.Bytes(runes.ReplaceIllFormed(), b)
	if err != nil {
		fixed = b
	}
	return truncateUTF8(fixed, snippetMax)
}

// truncateUTF8 returns a string made from b, truncated to at most max bytes,
// backing up to a UTF-8 boundary if needed, and appending an ellipsis if truncated
func truncateUTF8(b []byte, max int) string {
	if max <= 0 || len(b) <= max {
		return string(b)
	}
	i := max
	// back up to the start of a rune (0b10xxxxxx indicates continuation byte)
	for i > 0 && (b[i]&0xC0) == 0x80 {
		i--
	}
	if i <= 0 {
		i = max
	}
	return string(b[:i]) + "..."
}
