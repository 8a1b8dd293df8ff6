// Package parser splits stored message content into the block and
// statement nodes that sit below it in the hierarchy: fenced code blocks,
// paragraphs, lists, and (for tool-role messages) a single opaque
// tool-output block.
package parser

import (
	"regexp"
	"strings"
)

// Block is one parsed unit of a message (a code block, a paragraph, a list,
// or a tool result), split further into Statements.
type Block struct {
	Content    string
	Type       BlockType
	Language   string // set for BlockCode
	Statements []Statement
}

// Statement is one leaf unit of a Block (a sentence, a code line, a list
// item, or a line of tool output).
type Statement struct {
	Content string
	Type    StatementType
}

// BlockType identifies the kind of content a Block holds.
type BlockType int

const (
	BlockParagraph BlockType = iota
	BlockCode
	BlockToolOutput
	BlockList
)

// StatementType identifies the kind of content a Statement holds.
type StatementType int

const (
	StatementSentence StatementType = iota
	StatementCodeLine
	StatementListItem
)

// ParsedContent is a message's full block/statement breakdown.
type ParsedContent struct {
	Blocks []Block
}

var (
	codeBlockRegex  = regexp.MustCompile("(?s)```(\\w*)\\n?(.*?)```")
	sentenceSplit   = regexp.MustCompile(`([.!?]+)\s+`)
	listMarkerRegex = regexp.MustCompile(`^\d+\.\s`)
	blankLineRegex  = regexp.MustCompile(`\n\s*\n`)
)

// sentenceAbbreviations maps abbreviations that would otherwise look like
// sentence boundaries to a placeholder that survives splitSentences, and
// back again once splitting is done.
var sentenceAbbreviations = []struct{ abbr, placeholder string }{
	{"Mr.", "Mr\x00"},
	{"Mrs.", "Mrs\x00"},
	{"Dr.", "Dr\x00"},
	{"etc.", "etc\x00"},
	{"e.g.", "e\x00g\x00"},
	{"i.e.", "i\x00e\x00"},
}

// Parse breaks a message's content into blocks and statements. role
// distinguishes tool-result content (typically raw JSON or command output,
// not prose) from assistant/user text: a tool-role message is never run
// through sentence/paragraph splitting, since doing so on structured
// output produces meaningless fragments.
func Parse(role, content string) *ParsedContent {
	if role == "tool" {
		return &ParsedContent{Blocks: []Block{parseToolOutput(content)}}
	}
	return parseText(content)
}

func parseToolOutput(content string) Block {
	return Block{
		Content:    content,
		Type:       BlockToolOutput,
		Statements: splitLines(content, StatementCodeLine),
	}
}

func parseText(content string) *ParsedContent {
	result := &ParsedContent{Blocks: make([]Block, 0)}

	codeMatches := codeBlockRegex.FindAllStringSubmatchIndex(content, -1)

	lastEnd := 0
	for _, match := range codeMatches {
		if match[0] > lastEnd {
			result.Blocks = append(result.Blocks, parseTextBlocks(content[lastEnd:match[0]])...)
		}

		lang := ""
		if match[2] != -1 && match[3] != -1 {
			lang = content[match[2]:match[3]]
		}
		codeContent := ""
		if match[4] != -1 && match[5] != -1 {
			codeContent = content[match[4]:match[5]]
		}

		result.Blocks = append(result.Blocks, Block{
			Content:    codeContent,
			Type:       BlockCode,
			Language:   lang,
			Statements: splitLines(codeContent, StatementCodeLine),
		})

		lastEnd = match[1]
	}

	if lastEnd < len(content) {
		result.Blocks = append(result.Blocks, parseTextBlocks(content[lastEnd:])...)
	}

	if len(result.Blocks) == 0 && len(strings.TrimSpace(content)) > 0 {
		result.Blocks = append(result.Blocks, Block{
			Content:    content,
			Type:       BlockParagraph,
			Statements: parseTextStatements(content),
		})
	}

	return result
}

// parseTextBlocks splits non-code text into paragraphs and lists.
func parseTextBlocks(text string) []Block {
	blocks := make([]Block, 0)

	for _, para := range blankLineRegex.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if isListBlock(para) {
			blocks = append(blocks, Block{
				Content:    para,
				Type:       BlockList,
				Statements: parseListStatements(para),
			})
		} else {
			blocks = append(blocks, Block{
				Content:    para,
				Type:       BlockParagraph,
				Statements: parseTextStatements(para),
			})
		}
	}

	return blocks
}

func isListItemLine(line string) bool {
	return strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "+ ") ||
		listMarkerRegex.MatchString(line)
}

// isListBlock reports whether a paragraph is mostly list markers.
func isListBlock(text string) bool {
	lines := strings.Split(text, "\n")
	markers := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isListItemLine(trimmed) {
			markers++
		}
	}
	return markers > 0 && markers >= len(lines)/2
}

// parseTextStatements splits paragraph text into sentences.
func parseTextStatements(text string) []Statement {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var statements []Statement
	for _, sent := range splitSentences(text) {
		sent = strings.TrimSpace(sent)
		if sent != "" {
			statements = append(statements, Statement{Content: sent, Type: StatementSentence})
		}
	}

	if len(statements) == 0 {
		statements = append(statements, Statement{Content: text, Type: StatementSentence})
	}
	return statements
}

// splitSentences splits text on sentence-ending punctuation, protecting a
// handful of common abbreviations from being mistaken for boundaries.
func splitSentences(text string) []string {
	protected := text
	for _, r := range sentenceAbbreviations {
		protected = strings.ReplaceAll(protected, r.abbr, r.placeholder)
	}

	parts := sentenceSplit.Split(protected, -1)
	matches := sentenceSplit.FindAllString(protected, -1)

	var sentences []string
	for i, part := range parts {
		if part == "" {
			continue
		}
		sent := part
		if i < len(matches) {
			sent += strings.TrimSpace(matches[i])
		}
		for _, r := range sentenceAbbreviations {
			sent = strings.ReplaceAll(sent, r.placeholder, r.abbr)
		}
		sentences = append(sentences, sent)
	}

	return sentences
}

// splitLines turns raw text into one Statement per line, of the given
// type, preserving empty lines and trimming only trailing whitespace
// (leading whitespace in code is significant).
func splitLines(text string, kind StatementType) []Statement {
	lines := strings.Split(text, "\n")
	statements := make([]Statement, 0, len(lines))
	for _, line := range lines {
		statements = append(statements, Statement{
			Content: strings.TrimRight(line, " \t"),
			Type:    kind,
		})
	}
	return statements
}

// parseListStatements groups a list block's lines into items, folding
// wrapped continuation lines into the item they follow.
func parseListStatements(text string) []Statement {
	var statements []Statement
	var currentItem strings.Builder

	flush := func() {
		if currentItem.Len() > 0 {
			statements = append(statements, Statement{
				Content: strings.TrimSpace(currentItem.String()),
				Type:    StatementListItem,
			})
			currentItem.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if isListItemLine(trimmed) {
			flush()
			currentItem.WriteString(line)
		} else {
			if currentItem.Len() > 0 {
				currentItem.WriteString("\n")
			}
			currentItem.WriteString(line)
		}
	}
	flush()

	return statements
}
