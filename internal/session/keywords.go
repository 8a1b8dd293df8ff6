package session

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/anthropics/agentmemory/pkg/types"
)

// Extractor extracts keywords, identifiers, and file paths from content.
// Keywords are scored with TF-IDF against a per-session corpus that grows
// as more content is extracted for that session.
type Extractor struct {
	mu                sync.Mutex
	stopWords         map[string]struct{}
	filePathPattern   *regexp.Regexp
	identifierPattern *regexp.Regexp
	corpora           map[string]*sessionCorpus
}

// sessionCorpus tracks document frequency for a single session's
// accumulated content, used to compute IDF.
type sessionCorpus struct {
	docCount int
	docFreq  map[string]int
}

// NewExtractor creates a new keyword extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		stopWords: buildStopWords(),
		filePathPattern: regexp.MustCompile(
			`(?:^|[\s"'\(])((?:\.{1,2}/)?(?:[a-zA-Z0-9_.-]+/)+[a-zA-Z0-9_.-]+|[a-zA-Z]:\\[^\s"'\)]+)`,
		),
		identifierPattern: regexp.MustCompile(
			`\b([a-z][a-zA-Z0-9]*[A-Z][a-zA-Z0-9]*|[a-z]+_[a-z_0-9]+|[A-Z][a-z]+[A-Z][a-zA-Z0-9]*|[A-Z][A-Z0-9_]{2,})\b`,
		),
		corpora: make(map[string]*sessionCorpus),
	}
}

func buildStopWords() map[string]struct{} {
	words := []string{
		"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "must", "shall", "can", "need", "dare",
		"ought", "used", "to", "of", "in", "for", "on", "with", "at", "by",
		"from", "as", "into", "through", "during", "before", "after", "above",
		"below", "between", "under", "again", "further", "then", "once",
		"here", "there", "when", "where", "why", "how", "all", "each", "few",
		"more", "most", "other", "some", "such", "no", "nor", "not", "only",
		"own", "same", "so", "than", "too", "very", "just", "and", "but",
		"if", "or", "because", "until", "while", "this", "that", "these",
		"those", "it", "its",

		"func", "function", "def", "class", "struct", "interface", "type",
		"var", "let", "const", "static", "public", "private", "protected",
		"return", "else", "elif", "switch", "case", "default", "for",
		"while", "do", "break", "continue", "try", "catch", "except",
		"finally", "throw", "throws", "import", "export", "package",
		"module", "require", "include", "using", "namespace", "new", "delete",
		"nil", "null", "none", "true", "false", "void", "int", "string",
		"bool", "float", "double", "char", "byte", "long", "short",
		"async", "await", "yield", "lambda", "self", "super",
	}

	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Extract extracts keywords, identifiers, and file paths from content,
// scoring keywords against sessionID's accumulated corpus.
func (e *Extractor) Extract(sessionID, content string) ([]types.Keyword, []types.Identifier, []string) {
	files := e.extractFilePaths(content)
	identifiers := e.extractIdentifiers(content)
	keywords := e.extractKeywords(sessionID, content)
	return keywords, identifiers, files
}

// UpdateIDF folds content's unique, stop-word-filtered tokens into
// sessionID's corpus statistics without computing scores. Extract calls
// this itself; exposed separately so callers can pre-seed a corpus.
func (e *Extractor) UpdateIDF(sessionID string, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateIDFLocked(sessionID, tokenizeFiltered(content, e.stopWords))
}

func (e *Extractor) updateIDFLocked(sessionID string, tokens []string) {
	corpus, ok := e.corpora[sessionID]
	if !ok {
		corpus = &sessionCorpus{docFreq: make(map[string]int)}
		e.corpora[sessionID] = corpus
	}
	corpus.docCount++
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		corpus.docFreq[t]++
	}
}

// extractKeywords computes TF-IDF scores for content's tokens against
// sessionID's corpus (updating the corpus with this content first), and
// returns the top types.MaxKeywords, each capped to types.MaxKeywordLen.
func (e *Extractor) extractKeywords(sessionID, content string) []types.Keyword {
	tokens := tokenizeFiltered(content, e.stopWords)
	if len(tokens) == 0 {
		return nil
	}

	termFreq := make(map[string]int)
	for _, t := range tokens {
		termFreq[t]++
	}

	e.mu.Lock()
	e.updateIDFLocked(sessionID, tokens)
	corpus := e.corpora[sessionID]
	docFreq := make(map[string]int, len(termFreq))
	docCount := corpus.docCount
	for t := range termFreq {
		docFreq[t] = corpus.docFreq[t]
	}
	e.mu.Unlock()

	scored := make([]types.Keyword, 0, len(termFreq))
	for term, tf := range termFreq {
		idf := math.Log(float64(docCount+1)/float64(docFreq[term]+1)) + 1
		score := float64(tf) * idf
		word := term
		if len(word) > types.MaxKeywordLen {
			word = word[:types.MaxKeywordLen]
		}
		scored = append(scored, types.Keyword{Word: word, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].Word < scored[j].Word
		}
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > types.MaxKeywords {
		scored = scored[:types.MaxKeywords]
	}
	return scored
}

// extractFilePaths extracts file paths from content.
func (e *Extractor) extractFilePaths(content string) []string {
	matches := e.filePathPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{})
	var files []string

	for _, match := range matches {
		if len(match) <= 1 {
			continue
		}
		path := strings.TrimSpace(match[1])
		if !isLikelyFilePath(path) {
			continue
		}
		if _, exists := seen[path]; exists {
			continue
		}
		seen[path] = struct{}{}
		files = append(files, path)
		if len(files) >= types.MaxFilesTouched {
			break
		}
	}

	return files
}

func isLikelyFilePath(s string) bool {
	if !strings.Contains(s, "/") && !strings.Contains(s, "\\") {
		return false
	}

	parts := strings.Split(s, "/")
	if len(parts) == 1 {
		parts = strings.Split(s, "\\")
	}
	lastPart := parts[len(parts)-1]

	if strings.Contains(lastPart, ".") {
		return true
	}

	commonDirs := []string{"src", "lib", "bin", "pkg", "cmd", "internal", "test", "tests", "docs"}
	for _, dir := range commonDirs {
		if strings.Contains(strings.ToLower(s), dir) {
			return true
		}
	}

	return len(s) > 3 && len(parts) > 1
}

// extractIdentifiers extracts and classifies programming identifiers.
func (e *Extractor) extractIdentifiers(content string) []types.Identifier {
	locs := e.identifierPattern.FindAllStringIndex(content, -1)
	seen := make(map[string]struct{})
	var identifiers []types.Identifier

	for _, loc := range locs {
		name := content[loc[0]:loc[1]]
		if len(name) < 4 {
			continue
		}
		if _, isStop := e.stopWords[strings.ToLower(name)]; isStop {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		identifiers = append(identifiers, types.Identifier{
			Name: name,
			Kind: classifyIdentifier(name, content, loc[1]),
		})
		if len(identifiers) >= types.MaxIdentifiers {
			break
		}
	}

	return identifiers
}

// classifyIdentifier labels name as Constant (ALL_CAPS), Type
// (capitalized), Function (immediately followed by a paren), or
// Variable (the default).
func classifyIdentifier(name, content string, endIdx int) types.IdentifierKind {
	if isAllCaps(name) {
		return types.IdentifierConstant
	}
	if unicode.IsUpper(rune(name[0])) {
		return types.IdentifierType
	}
	if isFollowedByParen(content, endIdx) {
		return types.IdentifierFunction
	}
	return types.IdentifierVariable
}

func isAllCaps(name string) bool {
	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

func isFollowedByParen(content string, idx int) bool {
	for idx < len(content) && content[idx] == ' ' {
		idx++
	}
	return idx < len(content) && content[idx] == '('
}

// tokenizeFiltered splits text into lowercase word tokens, dropping
// stop words and tokens shorter than 3 characters.
func tokenizeFiltered(content string, stopWords map[string]struct{}) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		word := strings.ToLower(current.String())
		current.Reset()
		if len(word) < 3 {
			return
		}
		if _, isStop := stopWords[word]; isStop {
			return
		}
		tokens = append(tokens, word)
	}

	for _, r := range content {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}
