package learning

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/spamlens/spamlens/pkg/textnorm"
)

// StopWordPolicy controls which terms are excluded from the vocabulary.
type StopWordPolicy string

const (
	StopWordsEnglish StopWordPolicy = "english"
	StopWordsNone    StopWordPolicy = "none"
)

// ErrEmptyVocabulary is returned when fitting finds no usable terms.
var ErrEmptyVocabulary = errors.New("empty vocabulary: documents contain only stop words or no words at all")

// tokenRegex matches runs of two or more word characters.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// VectorizerConfig holds TF-IDF options.
type VectorizerConfig struct {
	// MaxVocabularySize keeps only the most frequent terms across the corpus.
	MaxVocabularySize int `json:"max_vocabulary_size"`
	// StopWordPolicy removes stop words before n-grams are built.
	StopWordPolicy StopWordPolicy `json:"stop_word_policy"`
	// NgramRange is the inclusive [min, max] n-gram length.
	NgramRange [2]int `json:"ngram_range"`
}

// DefaultVectorizerConfig returns 5000 unigrams with English stop words removed.
func DefaultVectorizerConfig() VectorizerConfig {
	return VectorizerConfig{
		MaxVocabularySize: 5000,
		StopWordPolicy:    StopWordsEnglish,
		NgramRange:        [2]int{1, 1},
	}
}

func (c VectorizerConfig) validate() error {
	if c.MaxVocabularySize < 1 {
		return fmt.Errorf("max vocabulary size must be >= 1, got %d", c.MaxVocabularySize)
	}
	if c.StopWordPolicy != StopWordsEnglish && c.StopWordPolicy != StopWordsNone {
		return fmt.Errorf("unknown stop word policy %q", c.StopWordPolicy)
	}
	if c.NgramRange[0] < 1 || c.NgramRange[1] < c.NgramRange[0] {
		return fmt.Errorf("invalid ngram range %v", c.NgramRange)
	}
	return nil
}

// Vector is a sparse feature vector. Indices are strictly increasing and
// always below Dim.
type Vector struct {
	Dim     int
	Indices []int
	Values  []float64
}

// At returns the weight of feature i.
func (v Vector) At(i int) float64 {
	k := sort.SearchInts(v.Indices, i)
	if k < len(v.Indices) && v.Indices[k] == i {
		return v.Values[k]
	}
	return 0
}

// Vectorizer maps text to TF-IDF vectors over a fixed vocabulary.
// It is immutable once fitted and safe for concurrent use.
type Vectorizer struct {
	config VectorizerConfig
	terms  []string // index -> term, alphabetical
	vocab  map[string]int
	idf    []float64
}

// FitVectorizer learns the vocabulary and idf weights from docs.
func FitVectorizer(docs []string, config VectorizerConfig) (*Vectorizer, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("fit vectorizer: no documents")
	}

	counts := make(map[string]int)
	docFreq := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range config.analyze(doc) {
			counts[term]++
			if !seen[term] {
				seen[term] = true
				docFreq[term]++
			}
		}
	}
	if len(counts) == 0 {
		return nil, ErrEmptyVocabulary
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}

	if len(terms) > config.MaxVocabularySize {
		sort.Slice(terms, func(i, j int) bool {
			if counts[terms[i]] != counts[terms[j]] {
				return counts[terms[i]] > counts[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:config.MaxVocabularySize]
	}
	sort.Strings(terms)

	n := float64(len(docs))
	v := &Vectorizer{
		config: config,
		terms:  terms,
		vocab:  make(map[string]int, len(terms)),
		idf:    make([]float64, len(terms)),
	}
	for i, term := range terms {
		v.vocab[term] = i
		v.idf[i] = math.Log((1+n)/(1+float64(docFreq[term]))) + 1
	}
	return v, nil
}

// Transform maps text onto the fitted vocabulary. Terms outside the
// vocabulary contribute nothing. The result is L2-normalised.
func (v *Vectorizer) Transform(text string) Vector {
	tf := make(map[int]float64)
	for _, term := range v.config.analyze(text) {
		if idx, ok := v.vocab[term]; ok {
			tf[idx]++
		}
	}

	vec := Vector{
		Dim:     len(v.terms),
		Indices: make([]int, 0, len(tf)),
		Values:  make([]float64, 0, len(tf)),
	}
	for idx := range tf {
		vec.Indices = append(vec.Indices, idx)
	}
	sort.Ints(vec.Indices)

	var norm float64
	for _, idx := range vec.Indices {
		w := tf[idx] * v.idf[idx]
		vec.Values = append(vec.Values, w)
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec.Values {
			vec.Values[i] /= norm
		}
	}
	return vec
}

// TransformAll transforms every document.
func (v *Vectorizer) TransformAll(docs []string) []Vector {
	out := make([]Vector, len(docs))
	for i, doc := range docs {
		out[i] = v.Transform(doc)
	}
	return out
}

// Size is the vocabulary size, i.e. the length of every produced vector.
func (v *Vectorizer) Size() int { return len(v.terms) }

// Index returns the feature index of term.
func (v *Vectorizer) Index(term string) (int, bool) {
	idx, ok := v.vocab[term]
	return idx, ok
}

// Term returns the term at feature index i.
func (v *Vectorizer) Term(i int) string { return v.terms[i] }

// Config returns the options the vectorizer was fitted with.
func (v *Vectorizer) Config() VectorizerConfig { return v.config }

// analyze lower-cases, tokenizes, drops stop words and builds n-grams.
func (c VectorizerConfig) analyze(text string) []string {
	tokens := tokenRegex.FindAllString(strings.ToLower(text), -1)
	if c.StopWordPolicy == StopWordsEnglish {
		kept := tokens[:0]
		for _, tok := range tokens {
			if !textnorm.IsStopWord(tok) {
				kept = append(kept, tok)
			}
		}
		tokens = kept
	}

	lo, hi := c.NgramRange[0], c.NgramRange[1]
	if lo == 1 && hi == 1 {
		return tokens
	}
	var out []string
	for n := lo; n <= hi; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

type vectorizerState struct {
	Config VectorizerConfig `json:"config"`
	Terms  []string         `json:"terms"`
	IDF    []float64        `json:"idf"`
}

// MarshalJSON encodes the fitted state.
func (v *Vectorizer) MarshalJSON() ([]byte, error) {
	return json.Marshal(vectorizerState{Config: v.config, Terms: v.terms, IDF: v.idf})
}

// UnmarshalJSON restores a fitted state.
func (v *Vectorizer) UnmarshalJSON(data []byte) error {
	var st vectorizerState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if err := st.Config.validate(); err != nil {
		return fmt.Errorf("vectorizer state: %w", err)
	}
	if len(st.Terms) == 0 || len(st.Terms) != len(st.IDF) {
		return fmt.Errorf("vectorizer state: %d terms but %d idf weights", len(st.Terms), len(st.IDF))
	}
	v.config = st.Config
	v.terms = st.Terms
	v.idf = st.IDF
	v.vocab = make(map[string]int, len(st.Terms))
	for i, term := range st.Terms {
		if _, dup := v.vocab[term]; dup {
			return fmt.Errorf("vectorizer state: duplicate term %q", term)
		}
		v.vocab[term] = i
	}
	return nil
}
