// Package specialty maps free-form project tags and categories to canonical
// specialty tags and infers provider scale.
package specialty

import (
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// DefaultMaxTags bounds Normalize output.
const DefaultMaxTags = 4

// minPartialLen is the shortest folded tag eligible for substring matching.
const minPartialLen = 3

// Table is a many-to-many synonym table. Keys are folded raw terms; values
// are canonical tags, most specific first.
type Table struct {
	Synonyms   map[string][]string `yaml:"synonyms"`
	Categories map[string][]string `yaml:"categories"`
}

// LoadTable reads a YAML synonym table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "specialty: read table %s", path)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrapf(err, "specialty: parse table %s", path)
	}
	if len(t.Synonyms) == 0 && len(t.Categories) == 0 {
		return nil, eris.Errorf("specialty: table %s is empty", path)
	}
	return &t, nil
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxTags overrides DefaultMaxTags.
func WithMaxTags(n int) Option {
	return func(nz *Normalizer) {
		if n > 0 {
			nz.maxTags = n
		}
	}
}

// WithTable replaces the compiled-in synonym table.
func WithTable(t *Table) Option {
	return func(nz *Normalizer) {
		if t != nil {
			nz.table = t
		}
	}
}

// Normalizer maps raw tags to canonical specialties. Immutable after
// construction and safe for concurrent use.
type Normalizer struct {
	table   *Table
	maxTags int

	synonyms   map[string][]string
	categories map[string][]string
	// partialKeys holds synonym keys ordered longest first, then
	// alphabetically, so substring matches prefer the most specific term.
	partialKeys []string
	canonical   map[string]bool
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(opts ...Option) *Normalizer {
	nz := &Normalizer{table: DefaultTable(), maxTags: DefaultMaxTags}
	for _, o := range opts {
		o(nz)
	}

	nz.synonyms = foldKeys(nz.table.Synonyms)
	nz.categories = foldKeys(nz.table.Categories)
	nz.canonical = make(map[string]bool)
	for k, tags := range nz.synonyms {
		nz.partialKeys = append(nz.partialKeys, k)
		for _, tag := range tags {
			nz.canonical[tag] = true
		}
	}
	for _, tags := range nz.categories {
		for _, tag := range tags {
			nz.canonical[tag] = true
		}
	}
	sort.Slice(nz.partialKeys, func(i, j int) bool {
		a, b := nz.partialKeys[i], nz.partialKeys[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return nz
}

// Normalize returns at most MaxTags canonical specialties for the request.
// Raw tags are matched directly against the synonym table, then by
// substring. Category defaults apply when no raw tag matched. The result
// is never empty.
func (nz *Normalizer) Normalize(rawTags []string, projectCategory string) []string {
	out := newOrderedSet(nz.maxTags)

	for _, raw := range rawTags {
		if out.full() {
			break
		}
		out.add(nz.match(Fold(raw))...)
	}

	if out.size() == 0 {
		cat := Fold(projectCategory)
		if tags, ok := nz.categories[cat]; ok {
			out.add(tags...)
		} else {
			out.add(nz.match(cat)...)
		}
	}

	if out.size() == 0 {
		if cat := strings.ToLower(strings.TrimSpace(projectCategory)); cat != "" {
			out.add(cat)
		}
	}
	return out.items
}

// match resolves a single folded term.
func (nz *Normalizer) match(term string) []string {
	if term == "" {
		return nil
	}
	if tags, ok := nz.synonyms[term]; ok {
		return tags
	}
	if canon := strings.ReplaceAll(term, " ", "_"); nz.canonical[canon] {
		return []string{canon}
	}
	if len(term) < minPartialLen {
		return nil
	}

	var hits []string
	for _, key := range nz.partialKeys {
		if partial(term, key) {
			hits = append(hits, nz.synonyms[key]...)
		}
	}
	return hits
}

// partial reports whether term and key overlap: as whole words in either
// direction, or as a raw substring when the contained side is long enough
// to be meaningful.
func partial(term, key string) bool {
	pt, pk := " "+term+" ", " "+key+" "
	if strings.Contains(pt, pk) || strings.Contains(pk, pt) {
		return true
	}
	if len(key) >= 4 && strings.Contains(term, key) {
		return true
	}
	return len(term) >= 4 && strings.Contains(key, term)
}

// Fold lower-cases s, strips diacritics and collapses separators to single
// spaces.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func foldKeys(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		fk := Fold(k)
		out[fk] = append(out[fk], v...)
	}
	return out
}

// orderedSet is a bounded, insertion-ordered string set.
type orderedSet struct {
	items []string
	seen  map[string]bool
	limit int
}

func newOrderedSet(limit int) *orderedSet {
	return &orderedSet{seen: make(map[string]bool), limit: limit}
}

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		if s.full() {
			return
		}
		if v == "" || s.seen[v] {
			continue
		}
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}

func (s *orderedSet) size() int  { return len(s.items) }
func (s *orderedSet) full() bool { return len(s.items) >= s.limit }
