// Package refiner reduces free-form queries to their content words before they are embedded.
package refiner

import (
	"fmt"
	"strings"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"

	"recall/internal/domain"
)

// Token is a word with its Penn Treebank part-of-speech tag.
type Token struct {
	Text string
	Tag  string
}

// Tagger splits text into part-of-speech tagged tokens.
type Tagger interface {
	Tag(text string) ([]Token, error)
}

// Lemmatizer maps an inflected word to its dictionary form.
type Lemmatizer interface {
	Lemma(word string) string
}

// Refiner keeps the lemmas of nouns, proper nouns and verbs, in query order.
type Refiner struct {
	tagger     Tagger
	lemmatizer Lemmatizer
}

// New creates a refiner from an explicit tagger and lemmatizer.
func New(tagger Tagger, lemmatizer Lemmatizer) *Refiner {
	return &Refiner{tagger: tagger, lemmatizer: lemmatizer}
}

// NewEnglish loads the prose tagger and the golem English dictionary.
// Failing to load either is a configuration error.
func NewEnglish() (*Refiner, error) {
	lem, err := golem.New(en.New())
	if err != nil {
		return nil, fmt.Errorf("%w: load lemmatizer: %v", domain.ErrConfiguration, err)
	}
	tagger, err := NewProseTagger()
	if err != nil {
		return nil, fmt.Errorf("%w: load tagger: %v", domain.ErrConfiguration, err)
	}
	return New(tagger, lem), nil
}

// Refine returns the space-joined content lemmas of query, or query itself when there are none.
func (r *Refiner) Refine(query string) string {
	tokens, err := r.tagger.Tag(query)
	if err != nil || len(tokens) == 0 {
		return query
	}
	words := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		cls := wordClass(tok.Tag)
		// the tagger reads a capitalised "Did"/"Is" opening a question as a proper noun
		if i == 0 && cls == classProperNoun && isAuxiliaryLemma(r.lemma(tok.Text)) {
			cls = classVerb
		}
		switch cls {
		case classProperNoun:
			words = append(words, tok.Text)
		case classNoun:
			words = append(words, r.lemma(tok.Text))
		case classVerb:
			lemma := r.lemma(tok.Text)
			if isAuxiliary(lemma, tokens[:i], tokens[i+1:]) {
				continue
			}
			words = append(words, lemma)
		}
	}
	if len(words) == 0 {
		return query
	}
	return strings.Join(words, " ")
}

func (r *Refiner) lemma(word string) string {
	lower := strings.ToLower(word)
	if l := r.lemmatizer.Lemma(lower); l != "" {
		return strings.ToLower(l)
	}
	return lower
}

type class int

const (
	classOther class = iota
	classNoun
	classProperNoun
	classVerb
)

func wordClass(tag string) class {
	switch tag {
	case "NN", "NNS":
		return classNoun
	case "NNP", "NNPS":
		return classProperNoun
	case "VB", "VBD", "VBG", "VBN", "VBP", "VBZ":
		return classVerb
	default:
		return classOther
	}
}

var copulas = map[string]struct{}{
	"be": {}, "'s": {}, "'re": {}, "'m": {},
}

var helpers = map[string]struct{}{
	"have": {}, "do": {}, "'ve": {}, "'d": {},
}

func isAuxiliaryLemma(lemma string) bool {
	_, copula := copulas[lemma]
	_, helper := helpers[lemma]
	return copula || helper
}

// isAuxiliary reports whether a verb only carries tense or agreement.
// Forms of "be" never count as content. "have" and "do" are auxiliary when a
// later verb follows, or when they open a question ahead of their subject
// ("Did I go", "Where did I travel", "Have you seen"). Otherwise they are main verbs ("I have a car").
func isAuxiliary(lemma string, before, after []Token) bool {
	if _, ok := copulas[lemma]; ok {
		return true
	}
	if _, ok := helpers[lemma]; !ok {
		return false
	}
	for _, tok := range after {
		if wordClass(tok.Tag) == classVerb {
			return true
		}
	}
	if !opensQuestion(before) || len(after) == 0 {
		return false
	}
	switch after[0].Tag {
	case "PRP", "NN", "NNS", "NNP", "NNPS":
		return true
	}
	return false
}

// opensQuestion reports whether no subject or verb precedes the current token.
func opensQuestion(before []Token) bool {
	for _, tok := range before {
		if tok.Tag == "PRP" || wordClass(tok.Tag) != classOther {
			return false
		}
	}
	return true
}

// Disabled passes queries through unchanged.
type Disabled struct{}

// Refine returns query as is.
func (Disabled) Refine(query string) string { return query }
