// Package search provides a small, deterministic, concurrency-safe in-memory
// index over menu products. An index is immutable after construction, so
// one can be built per menu snapshot and shared by concurrent requests.
//
// Scoring is Jaccard similarity between the query token set and each
// document's token set: score = |Q ∩ D| / |Q ∪ D|. A query token also
// matches a document token it prefixes (at least three runes), so "burg"
// finds "burger" while typing.
//
// Tokens are lowercased and stripped of diacritics, so "pão" and "pao" are
// the same token.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Document is one searchable entry, typically a product name plus its
// description.
type Document struct {
	ID   string
	Text string
}

// Result is a ranked document id with its similarity score.
type Result struct {
	ID    string
	Score float64
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
	Len() int
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	maxDocs   int
	minPrefix int
}

// DefaultStopwords are dropped from documents and queries.
var DefaultStopwords = []string{"a", "o", "e", "de", "da", "do", "com", "sem", "the", "and", "with"}

func defaultConfig() config {
	c := config{minPrefix: 3}
	WithStopwords(DefaultStopwords)(&c)
	return c
}

// WithStopwords replaces the stop-word list. An empty list disables it.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = fold(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		c.stopwords = nil
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps the number of indexed documents.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// WithMinPrefix sets the shortest query token allowed to prefix-match.
// Zero disables prefix matching.
func WithMinPrefix(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minPrefix = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	id     string
	tokens map[string]struct{}
	tLen   int
	text   int // rune length, for tie-breaks
}

type index struct {
	cfg  config
	docs []doc
}

// New builds an Index from docs. Documents without tokens are skipped.
func New(docs []Document, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	out := make([]doc, 0, len(docs))
	for _, d := range docs {
		t := strings.TrimSpace(d.Text)
		if d.ID == "" || t == "" {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		out = append(out, doc{id: d.ID, tokens: toks, tLen: len(toks), text: utf8.RuneCountInString(t)})
		if cfg.maxDocs > 0 && len(out) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: out}
}

// Len returns the number of indexed documents.
func (i *index) Len() int { return len(i.docs) }

// TopK returns up to k best-matching documents.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 10
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		id    string
		score float64
		runes int
	}
	buf := make([]scored, 0, min(k*4, len(i.docs)))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens, i.cfg.minPrefix)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		buf = append(buf, scored{id: d.id, score: float64(over) / union, runes: d.text})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].runes != buf[b].runes {
			return buf[a].runes < buf[b].runes
		}
		return buf[a].id < buf[b].id
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for j := 0; j < k; j++ {
		out[j] = Result{ID: buf[j].id, Score: buf[j].score}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// fold lowercases s and removes combining marks.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Lower(language.Und).String(out)
}

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// overlap counts query tokens found in the document, exactly or as a
// prefix of a document token.
func overlap(q, d map[string]struct{}, minPrefix int) int {
	if len(q) == 0 || len(d) == 0 {
		return 0
	}
	n := 0
	for t := range q {
		if _, ok := d[t]; ok {
			n++
			continue
		}
		if minPrefix == 0 || utf8.RuneCountInString(t) < minPrefix {
			continue
		}
		for dt := range d {
			if strings.HasPrefix(dt, t) {
				n++
				break
			}
		}
	}
	return n
}
