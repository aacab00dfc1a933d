package gharchive

import (
	"encoding/json"
	"hash/fnv"
	"net/url"
	"path"
	"strings"
)

// Synthetic IDs: legacy support for missing actor.id and repo.id.
// The event schema has drifted over time; archives from 2011-2014 carry the actor as a bare
// login and the repository as a nested object without the modern repo block.
// Missing ids are filled with negative values derived from stable hashes of the login and
// the canonical repo name, so they never collide with real GitHub ids (which are positive).

// SyntheticActorID returns a deterministic negative int64 from actor login
func SyntheticActorID(login string) int64 {
	return synthNegID("actor:", strings.ToLower(strings.TrimSpace(login)))
}

// SyntheticRepoIDFromName returns a deterministic negative int64 from "owner/repo"
func SyntheticRepoIDFromName(fullName string) int64 {
	return synthNegID("repo:", CanonRepoName(fullName))
}

// fillSyntheticIDs populates Actor.ID and Repo.ID when zero
func fillSyntheticIDs(e *Event) {
	if e.Actor.ID == 0 && strings.TrimSpace(e.Actor.Login) != "" {
		e.Actor.ID = SyntheticActorID(e.Actor.Login)
	}
	if e.Repo.ID == 0 && CanonRepoName(e.Repo.Name) != "" {
		e.Repo.ID = SyntheticRepoIDFromName(e.Repo.Name)
	}
}

func synthNegID(prefix, key string) int64 {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(prefix))
	_, _ = h.Write([]byte(key))
	v := int64(h.Sum64() & 0x7fffffffffffffff)
	if v == 0 {
		v = 1
	}
	return -v
}

// CanonRepoName normalizes to "owner/repo" (lowercase), accepts URLs or raw names
func CanonRepoName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".git")
	s = strings.Trim(s, "/")

	// git/https/ssh URLs
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if u, err := url.Parse(s); err == nil {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) >= 2 {
				s = parts[len(parts)-2] + "/" + parts[len(parts)-1]
			}
		}
	} else if strings.Contains(s, ":") && strings.Contains(s, "@") {
		// e.g. git@github.com:owner/repo(.git)
		if i := strings.Index(s, ":"); i >= 0 {
			s = s[i+1:]
		}
	}

	s = strings.TrimSuffix(s, ".git")
	s = strings.ToLower(strings.Trim(s, "/"))

	if s == "" {
		return ""
	}
	parts := strings.Split(s, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return s
}

// legacyActor is the pre-2015 actor_attributes block
type legacyActor struct {
	Login      string `json:"login"`
	GravatarID string `json:"gravatar_id"`
}

// legacyRepo is the pre-2015 top-level repository block
type legacyRepo struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Owner json.RawMessage `json:"owner"` // string or object with "login"|"name"
	URL   string          `json:"url"`
}

// fullName rebuilds "owner/name" from a legacy repository block
func (r legacyRepo) fullName() string {
	owner := strings.TrimSpace(legacyOwner(r.Owner))
	name := strings.TrimSpace(r.Name)
	if owner != "" && name != "" {
		return owner + "/" + name
	}
	if r.URL != "" {
		if rr, ok := ownerRepoFromURL(r.URL); ok {
			return rr
		}
	}
	return name
}

func legacyOwner(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if obj.Login != "" {
		return obj.Login
	}
	return obj.Name
}

func ownerRepoFromURL(u string) (string, bool) {
	// works for https://github.com/owner/repo and raw path-ish strings
	if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
		p := strings.Trim(parsed.EscapedPath(), "/")
		parts := strings.Split(p, "/")
		if len(parts) >= 2 {
			return path.Join(parts[len(parts)-2], parts[len(parts)-1]), true
		}
	}
	u = strings.Trim(u, "/")
	parts := strings.Split(u, "/")
	if len(parts) >= 2 {
		return path.Join(parts[len(parts)-2], parts[len(parts)-1]), true
	}
	return "", false
}
