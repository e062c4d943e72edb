package insights

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/kalambet/docmind/internal/document"
	"github.com/kalambet/docmind/internal/textutil"
)

const (
	maxTopics        = 5
	maxActionItems   = 5
	maxDates         = 3
	maxOrganizations = 3
	summarySentences = 3
	wordsPerMinute   = 200
)

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	regexp.MustCompile(`\b\d{1,2}-\d{1,2}-\d{2,4}\b`),
	regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`),
}

var orgSuffixes = []string{"Inc", "Corp", "Ltd", "LLC", "Company", "University", "Institute", "Center"}

var actionCue = regexp.MustCompile(`(?i)\b(?:must|should|need to|needs to|recommend(?:ed|s)?|action item|next steps?|follow up|to do|todo|required to|please)\b`)

var (
	positiveWords = wordSet("good", "great", "excellent", "positive", "improve", "improved", "improvement", "growth",
		"success", "successful", "benefit", "benefits", "gain", "gains", "increase", "increased", "strong",
		"effective", "efficient", "opportunity", "progress", "achieve", "achieved", "win", "profit", "profitable")
	negativeWords = wordSet("bad", "poor", "negative", "decline", "declined", "decrease", "decreased", "loss",
		"losses", "risk", "risks", "fail", "failed", "failure", "problem", "problems", "issue", "issues",
		"weak", "concern", "concerns", "delay", "delayed", "threat", "deficit", "crisis", "error", "errors")
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Heuristic derives insights from text without a language model.
func Heuristic(text string) document.Insights {
	return document.Insights{
		Summary:     Summarize(text, summarySentences),
		KeyTopics:   KeyTopics(text, maxTopics),
		ActionItems: ActionItems(text, maxActionItems),
		Entities: document.Entities{
			People:        []string{},
			Organizations: Organizations(text),
			Dates:         Dates(text),
			Locations:     []string{},
		},
		Sentiment:     Sentiment(text),
		DocumentStats: Stats(text),
	}
}

// Summarize returns the maxSentences highest scoring sentences in document
// order. Sentences score by the normalised frequency of their content words,
// damped by the square root of their length.
func Summarize(text string, maxSentences int) string {
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}

	freq := map[string]float64{}
	for _, s := range sentences {
		for _, tok := range textutil.ContentTokens(s) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, s := range sentences {
		toks := textutil.Tokens(s)
		total := 0.0
		for _, tok := range toks {
			if v, ok := freq[tok]; ok && maxF > 0 {
				total += v / maxF
			}
		}
		if len(toks) > 0 {
			total /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, total}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	n := min(maxSentences, len(scores))
	picked := make([]int, n)
	for i := range picked {
		picked[i] = scores[i].idx
	}
	sort.Ints(picked)

	out := make([]string, n)
	for i, idx := range picked {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

// KeyTopics returns up to n of the most frequent content words longer than
// three letters. Equal counts order alphabetically.
func KeyTopics(text string, n int) []string {
	counts := map[string]int{}
	for _, tok := range textutil.ContentTokens(text) {
		if len([]rune(tok)) > 3 && !isNumeric(tok) {
			counts[tok]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Dates finds numeric and long-form dates, first occurrences first.
func Dates(text string) []string {
	var found []string
	for _, p := range datePatterns {
		found = append(found, p.FindAllString(text, -1)...)
	}
	return firstUnique(found, maxDates)
}

// Organizations looks for organization suffixes in the first ten sentences
// and returns the suffix with up to two preceding words.
func Organizations(text string) []string {
	sentences := strings.Split(text, ".")
	if len(sentences) > 10 {
		sentences = sentences[:10]
	}
	var orgs []string
	for _, s := range sentences {
		words := strings.Fields(s)
		for _, suffix := range orgSuffixes {
			for i, w := range words {
				if !strings.Contains(w, suffix) {
					continue
				}
				snippet := strings.Join(words[max(0, i-2):i+1], " ")
				snippet = strings.Trim(snippet, ",;:()\"'")
				if len(snippet) > 3 {
					orgs = append(orgs, snippet)
				}
				break
			}
		}
	}
	return firstUnique(orgs, maxOrganizations)
}

// ActionItems returns sentences that read like instructions or
// recommendations, in document order.
func ActionItems(text string, n int) []string {
	var items []string
	for _, s := range textutil.Sentences(text) {
		if actionCue.MatchString(s) {
			items = append(items, s)
		}
	}
	return firstUnique(items, n)
}

// Sentiment classifies text by counting lexicon hits.
func Sentiment(text string) string {
	var pos, neg int
	for _, tok := range textutil.Tokens(text) {
		if _, ok := positiveWords[tok]; ok {
			pos++
		}
		if _, ok := negativeWords[tok]; ok {
			neg++
		}
	}
	switch {
	case pos == 0 && neg == 0:
		return "Neutral"
	case pos > 0 && neg > 0 && math.Abs(float64(pos-neg)) <= float64(pos+neg)/4:
		return "Mixed"
	case pos > neg:
		return "Positive"
	case neg > pos:
		return "Negative"
	default:
		return "Neutral"
	}
}

// Stats computes reading time and complexity locally.
func Stats(text string) document.DocumentStats {
	return document.DocumentStats{
		EstimatedReadingTime: ReadingTime(text),
		ComplexityScore:      Complexity(text),
	}
}

// ReadingTime estimates reading time at 200 words per minute.
func ReadingTime(text string) string {
	minutes := float64(len(strings.Fields(text))) / wordsPerMinute
	switch {
	case minutes < 1:
		return "< 1 minute"
	case minutes < 60:
		return fmt.Sprintf("%d minutes", int(minutes))
	default:
		return fmt.Sprintf("%dh %dm", int(minutes)/60, int(minutes)%60)
	}
}

// Complexity grades text by average word length.
func Complexity(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "Unknown"
	}
	total := 0
	for _, w := range words {
		total += len([]rune(w))
	}
	avg := float64(total) / float64(len(words))
	switch {
	case avg > 6:
		return "High"
	case avg > 4.5:
		return "Medium"
	default:
		return "Low"
	}
}

func firstUnique(items []string, n int) []string {
	seen := make(map[string]struct{}, len(items))
	out := []string{}
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
		if len(out) == n {
			break
		}
	}
	return out
}
