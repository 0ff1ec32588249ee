// Package avatar holds the fixed catalog of pseudonymous identities
// handed out to session participants.
package avatar

import "strings"

// Avatar is one pool entry. The catalog is read-only at runtime and
// shared by every session; uniqueness is enforced per session only.
type Avatar struct {
	ID    string
	Name  string
	Image string
}

// Pool is the immutable avatar catalog. Order is stable so selection
// can be made deterministic in tests by fixing the random source.
var Pool = []Avatar{
	{ID: "fox", Name: "Fox", Image: "fox.png"},
	{ID: "owl", Name: "Owl", Image: "owl.png"},
	{ID: "lynx", Name: "Lynx", Image: "lynx.png"},
	{ID: "otter", Name: "Otter", Image: "otter.png"},
	{ID: "raven", Name: "Raven", Image: "raven.png"},
	{ID: "heron", Name: "Heron", Image: "heron.png"},
	{ID: "badger", Name: "Badger", Image: "badger.png"},
	{ID: "marten", Name: "Marten", Image: "marten.png"},
	{ID: "weasel", Name: "Weasel", Image: "weasel.png"},
	{ID: "osprey", Name: "Osprey", Image: "osprey.png"},
	{ID: "stoat", Name: "Stoat", Image: "stoat.png"},
	{ID: "shrike", Name: "Shrike", Image: "shrike.png"},
	{ID: "civet", Name: "Civet", Image: "civet.png"},
	{ID: "genet", Name: "Genet", Image: "genet.png"},
	{ID: "serval", Name: "Serval", Image: "serval.png"},
	{ID: "margay", Name: "Margay", Image: "margay.png"},
}

// ByID returns the pool entry with the given id.
func ByID(id string) (Avatar, bool) {
	for _, a := range Pool {
		if a.ID == id {
			return a, true
		}
	}
	return Avatar{}, false
}

// Available returns the pool entries whose ids are not in used,
// preserving catalog order.
func Available(used []string) []Avatar {
	usedSet := make(map[string]struct{}, len(used))
	for _, id := range used {
		usedSet[id] = struct{}{}
	}

	available := make([]Avatar, 0, len(Pool))
	for _, a := range Pool {
		if _, taken := usedSet[a.ID]; !taken {
			available = append(available, a)
		}
	}
	return available
}

// ImageURL builds the public URL for an avatar image.
func ImageURL(baseURL string, a Avatar) string {
	return strings.TrimRight(baseURL, "/") + "/static/avatars/" + a.Image
}
