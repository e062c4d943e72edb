// Package textutil holds the tokenizer, sentence splitter and stopword list
// shared by the local embedder and the insights heuristics.
package textutil

import (
	"regexp"
	"strings"
)

var (
	tokenPattern    = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these",
		"those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into",
		"about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own",
		"same", "too", "very", "can", "will", "just", "don", "should", "now", "we", "our", "you", "your",
		"they", "their", "he", "she", "his", "her", "i", "me", "my", "not", "no", "do", "does", "did",
		"has", "have", "had", "which", "who", "what", "when", "where", "how", "all", "any", "each", "also",
		"may", "would", "could", "there", "here", "them", "more", "most", "other", "some", "only",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Tokens returns the lowercased word tokens of text.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// IsStopword reports whether the lowercased token carries no topical weight.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

// ContentTokens returns Tokens(text) without stopwords.
func ContentTokens(text string) []string {
	toks := Tokens(text)
	out := toks[:0]
	for _, t := range toks {
		if !IsStopword(t) {
			out = append(out, t)
		}
	}
	return out
}

// Sentences splits text on terminal punctuation. Trailing text without a
// terminator is returned as the last sentence.
func Sentences(text string) []string {
	locs := sentencePattern.FindAllStringIndex(text, -1)
	var out []string
	last := 0
	for _, loc := range locs {
		if s := strings.TrimSpace(text[loc[0]:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
