// Package lexical implements the BM25 retrieval method: language-aware
// analysis, an inverted index over chunk text, and exact BM25 scoring.
package lexical

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/ar"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/lang/es"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Analyzer turns raw text into the token stream the index scores over.
// Each supported language gets its own filter chain; a chunk is analyzed by
// the chain its Language field selects at index time, and queries go through
// the same chain so query and chunk tokens live in the same vocabulary.
type Analyzer struct {
	language string
	chain    *analysis.DefaultAnalyzer
}

// NewAnalyzer builds the analysis chain for a language.
// Supported: "en", "es", "ar".
func NewAnalyzer(language string) (*Analyzer, error) {
	chain, err := buildChain(strings.ToLower(language))
	if err != nil {
		return nil, err
	}
	return &Analyzer{language: strings.ToLower(language), chain: chain}, nil
}

// buildChain assembles the per-language token pipeline. All languages share
// the Unicode word tokenizer and lowercasing; Arabic additionally normalizes
// script variants (diacritic removal, alef/yeh/teh-marbuta folding) after
// stopword removal, matching the Lucene filter order the stopword lists
// assume. No stemming: token identity stays predictable across methods.
func buildChain(language string) (*analysis.DefaultAnalyzer, error) {
	switch language {
	case "en":
		stopFilter, err := stopFilterFromWords(en.EnglishStopWords)
		if err != nil {
			return nil, err
		}
		return &analysis.DefaultAnalyzer{
			Tokenizer: unicode.NewUnicodeTokenizer(),
			TokenFilters: []analysis.TokenFilter{
				lowercase.NewLowerCaseFilter(),
				stopFilter,
			},
		}, nil

	case "es":
		stopFilter, err := stopFilterFromWords(es.SpanishStopWords)
		if err != nil {
			return nil, err
		}
		return &analysis.DefaultAnalyzer{
			Tokenizer: unicode.NewUnicodeTokenizer(),
			TokenFilters: []analysis.TokenFilter{
				lowercase.NewLowerCaseFilter(),
				stopFilter,
			},
		}, nil

	case "ar":
		stopFilter, err := stopFilterFromWords(ar.ArabicStopWords)
		if err != nil {
			return nil, err
		}
		return &analysis.DefaultAnalyzer{
			Tokenizer: unicode.NewUnicodeTokenizer(),
			TokenFilters: []analysis.TokenFilter{
				lowercase.NewLowerCaseFilter(),
				stopFilter,
				ar.NewArabicNormalizeFilter(),
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported language %q", language)
	}
}

// stopFilterFromWords loads a bleve stopword byte list into a stop filter.
func stopFilterFromWords(words []byte) (analysis.TokenFilter, error) {
	tokenMap := analysis.NewTokenMap()
	if err := tokenMap.LoadBytes(words); err != nil {
		return nil, fmt.Errorf("failed to load stopword list: %w", err)
	}
	return stop.NewStopTokensFilter(tokenMap), nil
}

// Language returns the language this analyzer was built for.
func (a *Analyzer) Language() string {
	return a.language
}

// Analyze runs the chain and returns the surviving terms in text order.
// Always returns a non-nil slice.
func (a *Analyzer) Analyze(text string) []string {
	stream := a.chain.Analyze([]byte(text))
	tokens := make([]string, 0, len(stream))
	for _, token := range stream {
		tokens = append(tokens, string(token.Term))
	}
	return tokens
}

// AnalyzerSet holds one analyzer per configured language. The first
// configured language doubles as the fallback for queries in an unknown
// language.
type AnalyzerSet struct {
	byLanguage map[string]*Analyzer
	fallback   *Analyzer
}

// NewAnalyzerSet builds analyzers for the configured languages.
// At least one language is required.
func NewAnalyzerSet(languages []string) (*AnalyzerSet, error) {
	if len(languages) == 0 {
		return nil, fmt.Errorf("at least one language is required")
	}

	set := &AnalyzerSet{byLanguage: make(map[string]*Analyzer, len(languages))}
	for _, language := range languages {
		analyzer, err := NewAnalyzer(language)
		if err != nil {
			return nil, fmt.Errorf("language %q: %w", language, err)
		}
		set.byLanguage[analyzer.Language()] = analyzer
		if set.fallback == nil {
			set.fallback = analyzer
		}
	}
	return set, nil
}

// For returns the analyzer for a language, or an error if the language is
// not configured. Chunks in unconfigured languages are skipped at index
// time, not silently analyzed with the wrong rules.
func (s *AnalyzerSet) For(language string) (*Analyzer, error) {
	analyzer, ok := s.byLanguage[strings.ToLower(language)]
	if !ok {
		return nil, fmt.Errorf("no analyzer configured for language %q", language)
	}
	return analyzer, nil
}

// Fallback returns the analyzer for the first configured language.
func (s *AnalyzerSet) Fallback() *Analyzer {
	return s.fallback
}

// Languages returns the configured languages, sorted.
func (s *AnalyzerSet) Languages() []string {
	languages := make([]string, 0, len(s.byLanguage))
	for language := range s.byLanguage {
		languages = append(languages, language)
	}
	sort.Strings(languages)
	return languages
}
