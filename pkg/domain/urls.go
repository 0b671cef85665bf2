package domain

import (
	"fmt"
	"net/url"
)

const OpenScheme = "pob://pobbin/"

// PathSegment escapes one path segment the way every derived URL does.
func PathSegment(s string) string { return url.PathEscape(s) }

func userSeg(u User) string { return PathSegment(string(u)) }

func URL(p PasteID) string {
	switch p := p.(type) {
	case Paste:
		return "/" + string(p.ID)
	case UserPaste:
		return fmt.Sprintf("/u/%s/%s", userSeg(p.User), p.ID)
	}
	panic(fmt.Sprintf("domain: unknown paste id %T", p))
}

func RawURL(p PasteID) string  { return URL(p) + "/raw" }
func JSONURL(p PasteID) string { return URL(p) + "/json" }

// LoadURL is the short form the desktop client fetches builds from.
func LoadURL(p PasteID) string {
	switch p := p.(type) {
	case Paste:
		return "/pob/" + string(p.ID)
	case UserPaste:
		return fmt.Sprintf("/pob/%s:%s", userSeg(p.User), p.ID)
	}
	panic(fmt.Sprintf("domain: unknown paste id %T", p))
}

func OpenURL(p PasteID) string {
	switch p := p.(type) {
	case Paste:
		return OpenScheme + string(p.ID)
	case UserPaste:
		return fmt.Sprintf("%s%s:%s", OpenScheme, userSeg(p.User), p.ID)
	}
	panic(fmt.Sprintf("domain: unknown paste id %T", p))
}

func LongLoadURL(p UserPaste) string {
	return fmt.Sprintf("/pob/u/%s/%s", userSeg(p.User), p.ID)
}

func EditURL(p UserPaste) string { return URL(p) + "/edit" }

func UserURL(u User) string { return "/u/" + userSeg(u) }

func UserAPIURL(u User) string { return "/api/internal/user/" + userSeg(u) }

// Variants lists every URL a paste can be reached by. Cache invalidation
// purges exactly this set, so a new view must be added here. EditURL is
// served by the external UI, not by this host.
func Variants(p PasteID) []string {
	out := []string{URL(p), RawURL(p), JSONURL(p), LoadURL(p), OpenURL(p)}
	up, ok := p.(UserPaste)
	if !ok {
		return out
	}
	return append(out,
		LongLoadURL(up),
		EditURL(up),
		UserURL(up.User),
		UserAPIURL(up.User),
	)
}
