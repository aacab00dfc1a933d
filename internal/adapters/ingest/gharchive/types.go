package gharchive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is where hourly archives are published
const DefaultBaseURL = "https://data.gharchive.org"

// HourRef identifies a GH Archive hour (UTC).
type HourRef struct {
	Year  int
	Month int
	Day   int
	Hour  int
}

// NewHourRef creates an HourRef from a time.Time, converting to UTC
func NewHourRef(t time.Time) HourRef {
	ut := t.UTC()
	return HourRef{Year: ut.Year(), Month: int(ut.Month()), Day: ut.Day(), Hour: ut.Hour()}
}

// String returns the string representation of the HourRef in GH Archive format
func (h HourRef) String() string {
	// Matches GH Archive naming: YYYY-MM-DD-H (no leading zero on the hour)
	return fmt.Sprintf("%04d-%02d-%02d-%d", h.Year, h.Month, h.Day, h.Hour)
}

// FileName is the archive object name for the hour
func (h HourRef) FileName() string { return h.String() + ".json.gz" }

// Time returns the start of the hour in UTC
func (h HourRef) Time() time.Time {
	return time.Date(h.Year, time.Month(h.Month), h.Day, h.Hour, 0, 0, 0, time.UTC)
}

// ParseHourName parses "YYYY-MM-DD-H" with an optional .json.gz suffix
func ParseHourName(name string) (HourRef, bool) {
	base := strings.TrimSuffix(name, ".json.gz")
	i := strings.LastIndexByte(base, '-')
	if i < 0 {
		return HourRef{}, false
	}
	d, err := time.Parse(dateLayout, base[:i])
	if err != nil {
		return HourRef{}, false
	}
	hs := base[i+1:]
	hour, err := strconv.Atoi(hs)
	if err != nil || hour < 0 || hour > 23 || strconv.Itoa(hour) != hs {
		return HourRef{}, false
	}
	return NewHourRef(d.Add(time.Duration(hour) * time.Hour)), true
}

// ArchiveID names one compressed archive: an explicit locator (URI or path) or an hour
type ArchiveID struct {
	Locator string
	Hour    HourRef
}

// HourID addresses the published archive for h
func HourID(h HourRef) ArchiveID { return ArchiveID{Hour: h} }

// LocatorID addresses an archive by URI or filesystem path
func LocatorID(loc string) ArchiveID { return ArchiveID{Locator: loc} }

// IsHour reports whether the id is a (date, hour) pair
func (a ArchiveID) IsHour() bool { return a.Locator == "" }

// String is the stable key of the archive, also used by ledgers
func (a ArchiveID) String() string {
	if a.IsHour() {
		return a.Hour.FileName()
	}
	return a.Locator
}

// ParseArchiveID is the inverse of ArchiveID.String
// a bare hour file name maps back to an hour id, anything else is a locator
func ParseArchiveID(key string) ArchiveID {
	if h, ok := ParseHourName(key); ok && h.FileName() == key {
		return HourID(h)
	}
	return LocatorID(key)
}

// URL resolves the id against base; locators are returned unchanged
func (a ArchiveID) URL(base string) string {
	if !a.IsHour() {
		return a.Locator
	}
	return strings.TrimRight(base, "/") + "/" + a.Hour.FileName()
}

// Event is one decoded archive record
// Payload stays raw; its schema depends on Type
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     Actor           `json:"actor"`
	Repo      Repo            `json:"repo"`
	Org       *Org            `json:"org,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Public    bool            `json:"public"`
	CreatedAt time.Time       `json:"created_at"`
}

// Actor is the user who triggered the event
type Actor struct {
	ID           int64  `json:"id"`
	Login        string `json:"login"`
	DisplayLogin string `json:"display_login,omitempty"`
	GravatarID   string `json:"gravatar_id,omitempty"`
	URL          string `json:"url,omitempty"`
	AvatarURL    string `json:"avatar_url,omitempty"`
}

// Repo is the repository the event occurred in
type Repo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"` // owner/name
	URL  string `json:"url,omitempty"`
}

// Org is the organization owning the repository, when any
type Org struct {
	ID         int64  `json:"id"`
	Login      string `json:"login"`
	GravatarID string `json:"gravatar_id,omitempty"`
	URL        string `json:"url,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// eventNS namespaces deterministic event keys
var eventNS = uuid.MustParse("5b1f0c6e-8f0a-4c57-9a57-6b0b7c1e2f3d")

// Key returns a deterministic UUID for the event
// Uses the event id when present; legacy events without one hash their identifying fields
func (e Event) Key() uuid.UUID {
	if e.ID != "" {
		return uuid.NewSHA1(eventNS, []byte("id:"+e.ID))
	}
	k := fmt.Sprintf("legacy:%s|%d|%d|%s|%s",
		e.Type, e.Actor.ID, e.Repo.ID, e.CreatedAt.UTC().Format(time.RFC3339Nano), e.Payload)
	return uuid.NewSHA1(eventNS, []byte(k))
}
