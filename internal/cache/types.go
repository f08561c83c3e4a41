package cache

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Kind is the typed namespace segment of a cache key.
type Kind string

const (
	KindProduct  Kind = "product"
	KindCategory Kind = "category"
	KindBanner   Kind = "banner"
	KindSearch   Kind = "search"
	KindHomepage Kind = "homepage"
	KindStats    Kind = "stats"
	KindOther    Kind = "other"
)

var knownKinds = map[Kind]bool{
	KindProduct:  true,
	KindCategory: true,
	KindBanner:   true,
	KindSearch:   true,
	KindHomepage: true,
	KindStats:    true,
}

const (
	// KeyRoot prefixes every cache entry key.
	KeyRoot = "cache"
	// TagRoot prefixes every tag set key.
	TagRoot = "tag"
)

// Cache configuration
const (
	DefaultTTL            = 5 * time.Minute
	MinSizeForCompression = 1024 // Only compress payloads larger than 1KB
)

// Common tags used by write paths.
const (
	TagProducts   = "products"
	TagCategories = "categories"
	TagBanners    = "banners"
	TagHomepage   = "homepage"
)

// Key is a structured cache key rendered as cache:<kind>:<part>:<part>...
type Key struct {
	Kind  Kind
	Parts []string
}

// NewKey builds a key of the given kind.
func NewKey(kind Kind, parts ...string) Key {
	return Key{Kind: kind, Parts: parts}
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(KeyRoot)
	b.WriteByte(':')
	b.WriteString(string(k.Kind))
	for _, p := range k.Parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// Pattern returns the glob matching every key of the given kind.
func Pattern(kind Kind) string {
	return KeyRoot + ":" + string(kind) + ":*"
}

// FilterKey encodes an arbitrary filter/pagination descriptor into a
// deterministic key. Struct field order fixes the JSON layout, so equal
// descriptors always produce equal keys.
func FilterKey(kind Kind, descriptor any) (Key, error) {
	raw, err := json.Marshal(descriptor)
	if err != nil {
		return Key{}, err
	}
	return NewKey(kind, base64.RawURLEncoding.EncodeToString(raw)), nil
}

// ParseKey splits a raw key into its structured form. Keys outside the
// cache namespace, or with an unknown kind, report KindOther.
func ParseKey(raw string) Key {
	segments := strings.Split(raw, ":")
	if len(segments) < 2 || segments[0] != KeyRoot {
		return Key{Kind: KindOther, Parts: []string{raw}}
	}
	kind := Kind(segments[1])
	if !knownKinds[kind] {
		return Key{Kind: KindOther, Parts: segments[1:]}
	}
	return Key{Kind: kind, Parts: segments[2:]}
}

// KindOf returns the kind segment of a raw key.
func KindOf(raw string) Kind {
	return ParseKey(raw).Kind
}

// TagKey returns the KV key of a tag's member set.
func TagKey(tag string) string {
	return TagRoot + ":" + tag
}

// TagName is the inverse of TagKey.
func TagName(tagKey string) string {
	return strings.TrimPrefix(tagKey, TagRoot+":")
}

// CategoryTag groups every entry derived from one category.
func CategoryTag(id string) string {
	return "category:" + id
}

// ProductTag groups every entry derived from one product.
func ProductTag(id string) string {
	return "product:" + id
}
