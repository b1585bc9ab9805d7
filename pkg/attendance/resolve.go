package attendance

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g. "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName lowercases a name, strips diacritics and folds dashes and
// repeated whitespace into single spaces.
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}

// ResolvePerson finds a person by exact id, or by full name ignoring case and
// diacritics ("first last" or "last first"). An ambiguous name is an error.
func ResolvePerson(people []Person, query string) (Person, error) {
	query = strings.TrimSpace(query)
	for _, p := range people {
		if p.ID == query {
			return p, nil
		}
	}

	want := NormalizeName(query)
	var found []Person
	for _, p := range people {
		first, last := NormalizeName(p.FirstName), NormalizeName(p.LastName)
		if want == strings.TrimSpace(first+" "+last) || want == strings.TrimSpace(last+" "+first) {
			found = append(found, p)
		}
	}

	switch len(found) {
	case 0:
		return Person{}, fmt.Errorf("%w: %q", ErrPersonNotFound, query)
	case 1:
		return found[0], nil
	default:
		return Person{}, fmt.Errorf("%q matches %d people, use the id", query, len(found))
	}
}
