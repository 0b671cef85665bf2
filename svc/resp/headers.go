package resp

import (
	"runtime/debug"
	"strconv"
	"strings"
	"time"
)

type Cachability int

const (
	Unset Cachability = iota
	Public
	Private
	NoCache
)

func (c Cachability) String() string {
	switch c {
	case Public:
		return "public"
	case Private:
		return "private"
	case NoCache:
		return "no-cache"
	}
	return ""
}

type CacheControl struct {
	cachability Cachability
	maxAge      time.Duration
	sMaxAge     time.Duration
	hasMaxAge   bool
	hasSMaxAge  bool
}

func (c CacheControl) With(ca Cachability) CacheControl {
	c.cachability = ca
	return c
}

func (c CacheControl) Public() CacheControl { return c.With(Public) }

func (c CacheControl) MaxAge(d time.Duration) CacheControl {
	c.maxAge, c.hasMaxAge = d, true
	return c
}

func (c CacheControl) SMaxAge(d time.Duration) CacheControl {
	c.sMaxAge, c.hasSMaxAge = d, true
	return c
}

func (c CacheControl) String() string {
	var parts []string
	if c.cachability != Unset {
		parts = append(parts, c.cachability.String())
	}
	if c.hasMaxAge {
		parts = append(parts, "max-age="+strconv.FormatInt(int64(c.maxAge/time.Second), 10))
	}
	if c.hasSMaxAge {
		parts = append(parts, "s-maxage="+strconv.FormatInt(int64(c.sMaxAge/time.Second), 10))
	}
	return strings.Join(parts, ", ")
}

// CacheTTL reads the shared cache lifetime from a Cache-Control value,
// preferring s-maxage over max-age.
func CacheTTL(header string) (time.Duration, bool) {
	var maxAge, sMaxAge time.Duration
	var hasMax, hasShared bool
	for _, directive := range strings.Split(header, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		secs, err := strconv.ParseInt(strings.Trim(value, `"`), 10, 64)
		if err != nil || secs <= 0 {
			continue
		}
		switch strings.ToLower(name) {
		case "s-maxage":
			sMaxAge, hasShared = time.Duration(secs)*time.Second, true
		case "max-age":
			maxAge, hasMax = time.Duration(secs)*time.Second, true
		}
	}
	if hasShared {
		return sMaxAge, true
	}
	return maxAge, hasMax
}

// ETag renders as "v", W/"v" or, with a build marker, "v.<build>".
type ETag struct {
	Value string
	Weak  bool
	Build bool
}

func StrongETag(v string) ETag { return ETag{Value: v} }
func WeakETag(v string) ETag   { return ETag{Value: v, Weak: true} }

func (e ETag) WithBuild() ETag {
	e.Build = true
	return e
}

func (e ETag) valid() bool {
	return e.Value != "" && !strings.ContainsAny(e.Value, "\"\r\n")
}

func (e ETag) String() string {
	var b strings.Builder
	if e.Weak {
		b.WriteString("W/")
	}
	b.WriteByte('"')
	b.WriteString(e.Value)
	if e.Build {
		b.WriteByte('.')
		b.WriteString(BuildVersion)
	}
	b.WriteByte('"')
	return b.String()
}

// BuildVersion is the short VCS revision of the binary, or "dev".
var BuildVersion = buildVersion()

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return "dev"
}
