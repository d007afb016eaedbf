package refiner

import (
	"errors"

	"github.com/jdkato/prose/v2"
)

// ProseTagger tags text with the prose averaged-perceptron model.
// The model is read-only after loading and may be shared between goroutines.
type ProseTagger struct {
	model *prose.Model
}

// NewProseTagger builds the perceptron model once.
func NewProseTagger() (*ProseTagger, error) {
	doc, err := prose.NewDocument("warm up the tagger",
		prose.WithSegmentation(false),
		prose.WithExtraction(false))
	if err != nil {
		return nil, err
	}
	if doc.Model == nil {
		return nil, errors.New("prose returned no model")
	}
	return &ProseTagger{model: doc.Model}, nil
}

// Tag tokenizes and tags text. Sentence segmentation and entity extraction are skipped.
func (p *ProseTagger) Tag(text string) ([]Token, error) {
	doc, err := prose.NewDocument(text,
		prose.UsingModel(p.model),
		prose.WithSegmentation(false),
		prose.WithExtraction(false))
	if err != nil {
		return nil, err
	}
	toks := doc.Tokens()
	out := make([]Token, len(toks))
	for i, t := range toks {
		out[i] = Token{Text: t.Text, Tag: t.Tag}
	}
	return out, nil
}
