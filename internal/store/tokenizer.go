package store

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// wordRegex matches runs of letters and digits in any script; underscores
// stay attached for snake_case splitting.
var wordRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenizer turns log lines, stack traces and prose into lowercase index terms.
// "NullPointerException in AuthService.login" yields
// [null pointer exception auth service login].
type Tokenizer struct {
	stopWords map[string]struct{}
	minLen    int
}

// NewTokenizer builds a tokenizer from a BM25Config.
func NewTokenizer(cfg BM25Config) *Tokenizer {
	minLen := cfg.MinTokenLength
	if minLen <= 0 {
		minLen = 2
	}
	return &Tokenizer{
		stopWords: BuildStopWordMap(cfg.StopWords),
		minLen:    minLen,
	}
}

// Tokenize splits text into terms, dropping stop words and short tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	tokens := TokenizeCode(text)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) < t.minLen {
			continue
		}
		if _, stop := t.stopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// TokenizeCode splits text on punctuation and identifier boundaries
// (camelCase, PascalCase, snake_case) and lowercases every piece.
// Tokens shorter than two characters are dropped.
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range SplitCodeToken(word) {
			if utf8.RuneCountInString(part) < 2 {
				continue
			}
			tokens = append(tokens, strings.ToLower(part))
		}
	}
	return tokens
}

// SplitCodeToken splits snake_case first, then camelCase inside each part.
func SplitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronyms together:
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "HTTPHandler" -> ["HTTP", "Handler"]
//   - "NullPointerException" -> ["Null", "Pointer", "Exception"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	runes := []rune(s)
	var result []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		afterLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
		acronymEnd := unicode.IsUpper(runes[i-1]) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if afterLower || acronymEnd {
			result = append(result, string(runes[start:i]))
			start = i
		}
	}
	return append(result, string(runes[start:]))
}

// BuildStopWordMap converts a slice of stop words to a set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
