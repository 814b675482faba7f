package sso

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/platinummonkey/websso/pkg/directory"
)

// MaxLoginLength is the longest login a principal may carry
const MaxLoginLength = directory.MaxLoginLength

// Attribute name prefixes recognised in assertions
const (
	MACEPrefix = "urn:mace:dir:attribute-def:"
	OIDPrefix  = "urn:oid:"
)

// Attribute is a federation attribute known by friendly name and OID
type Attribute struct {
	Name string
	OID  string
}

// URN returns the urn:mace:dir:attribute-def: name of the attribute
func (a Attribute) URN() string {
	return MACEPrefix + a.Name
}

var (
	AttrUID                  = Attribute{Name: "uid", OID: "0.9.2342.19200300.100.1.1"}
	AttrMail                 = Attribute{Name: "mail", OID: "0.9.2342.19200300.100.1.3"}
	AttrDisplayName          = Attribute{Name: "displayName", OID: "2.16.840.1.113730.3.1.241"}
	AttrGivenName            = Attribute{Name: "givenName", OID: "2.5.4.42"}
	AttrSurname              = Attribute{Name: "sn", OID: "2.5.4.4"}
	AttrCommonName           = Attribute{Name: "cn", OID: "2.5.4.3"}
	AttrEduPersonAffiliation = Attribute{Name: "eduPersonAffiliation", OID: "1.3.6.1.4.1.5923.1.1.1.1"}
	AttrEduPersonEntitlement = Attribute{Name: "eduPersonEntitlement", OID: "1.3.6.1.4.1.5923.1.1.1.7"}
)

// KnownAttributes lists every attribute the extractor reads
var KnownAttributes = []Attribute{
	AttrUID,
	AttrMail,
	AttrDisplayName,
	AttrGivenName,
	AttrSurname,
	AttrCommonName,
	AttrEduPersonAffiliation,
	AttrEduPersonEntitlement,
}

// key precedence when the same attribute arrives under several names
const (
	rankMACE = iota
	rankOID
	rankBare
)

// Extractor maps a raw assertion onto a CanonicalIdentity
type Extractor struct{}

// Extract reads the fixed attribute set from raw. It fails only when raw
// carries no attributes at all.
func (Extractor) Extract(raw RawAssertion) (CanonicalIdentity, error) {
	if len(raw) == 0 {
		return CanonicalIdentity{}, newError(KindMissingAttributes, nil)
	}

	values := resolveAttributes(raw)
	first := func(a Attribute) string {
		for _, v := range values[a.Name] {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
		return ""
	}

	identity := CanonicalIdentity{
		LoginID:      first(AttrUID),
		Email:        first(AttrMail),
		DisplayName:  first(AttrDisplayName),
		Affiliations: normalizeSet(values[AttrEduPersonAffiliation.Name]),
		Entitlements: normalizeSet(values[AttrEduPersonEntitlement.Name]),
	}

	given, surname, cn := first(AttrGivenName), first(AttrSurname), first(AttrCommonName)
	if given != "" || surname != "" {
		identity.FirstName, identity.LastName = given, surname
	} else {
		source := identity.DisplayName
		if source == "" {
			source = cn
		}
		identity.FirstName, identity.LastName = splitName(source)
	}

	if identity.DisplayName == "" {
		identity.DisplayName = strings.TrimSpace(given + " " + surname)
	}
	if identity.DisplayName == "" {
		identity.DisplayName = cn
	}

	return identity, nil
}

// resolveAttributes groups raw values by friendly attribute name
func resolveAttributes(raw RawAssertion) map[string][]string {
	byKey := make(map[string]Attribute, len(KnownAttributes)*2)
	for _, a := range KnownAttributes {
		byKey[strings.ToLower(a.Name)] = a
		byKey[a.OID] = a
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ranks := make(map[string]int)
	values := make(map[string][]string)
	for _, k := range keys {
		name, rank := strings.ToLower(strings.TrimSpace(k)), rankBare
		switch {
		case strings.HasPrefix(name, MACEPrefix):
			name, rank = strings.TrimPrefix(name, MACEPrefix), rankMACE
		case strings.HasPrefix(name, OIDPrefix):
			name, rank = strings.TrimPrefix(name, OIDPrefix), rankOID
		}

		a, ok := byKey[name]
		if !ok || len(raw[k]) == 0 {
			continue
		}
		if current, seen := ranks[a.Name]; seen && current <= rank {
			continue
		}
		ranks[a.Name] = rank
		values[a.Name] = raw[k]
	}
	return values
}

// splitName splits on the first whitespace run. A single token has no last name.
func splitName(name string) (string, string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// normalizeSet trims, de-duplicates and sorts values
func normalizeSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

var (
	tagPattern      = regexp.MustCompile(`<[^>]*>`)
	octetPattern    = regexp.MustCompile(`%[a-fA-F0-9]{2}`)
	entityPattern   = regexp.MustCompile(`&.+?;`)
	strictPattern   = regexp.MustCompile(`(?i)[^a-z0-9 _.\-@]`)
	spacePattern    = regexp.MustCompile(`\s+`)
	ligatureReplace = strings.NewReplacer(
		"ß", "ss", "Æ", "AE", "æ", "ae", "Œ", "OE", "œ", "oe",
		"Ø", "O", "ø", "o", "Đ", "D", "đ", "d", "Ł", "L", "ł", "l",
		"Þ", "TH", "þ", "th", "Ð", "D", "ð", "d",
	)
)

// SanitizeLogin reduces s to the strict login charset and truncates it to
// MaxLoginLength characters.
func SanitizeLogin(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = removeAccents(s)
	s = octetPattern.ReplaceAllString(s, "")
	s = entityPattern.ReplaceAllString(s, "")
	s = strictPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = spacePattern.ReplaceAllString(s, " ")
	if len(s) > MaxLoginLength {
		s = s[:MaxLoginLength]
	}
	return s
}

// ValidLogin reports whether login is non-empty and already in sanitized form
func ValidLogin(login string) bool {
	return login != "" && login == SanitizeLogin(login)
}

func removeAccents(s string) string {
	s = ligatureReplace.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
