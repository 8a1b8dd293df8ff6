package parser

import "testing"

func TestParseSplitsCodeAndProse(t *testing.T) {
	content := "Here is a fix.\n\n```go\nfunc add(a, b int) int {\n\treturn a + b\n}\n```\n\nThat should do it."
	parsed := Parse("assistant", content)

	var sawCode, sawParagraph bool
	for _, b := range parsed.Blocks {
		switch b.Type {
		case BlockCode:
			sawCode = true
			if b.Language != "go" {
				t.Errorf("code block language = %q, want %q", b.Language, "go")
			}
			if len(b.Statements) == 0 {
				t.Error("expected code block to have statements")
			}
		case BlockParagraph:
			sawParagraph = true
		}
	}
	if !sawCode || !sawParagraph {
		t.Fatalf("expected both a code block and a paragraph, got %+v", parsed.Blocks)
	}
}

func TestParseToolRoleSkipsProseSplitting(t *testing.T) {
	content := "{\n  \"status\": \"ok\",\n  \"count\": 3\n}"
	parsed := Parse("tool", content)

	if len(parsed.Blocks) != 1 {
		t.Fatalf("expected exactly one block for a tool message, got %d", len(parsed.Blocks))
	}
	if parsed.Blocks[0].Type != BlockToolOutput {
		t.Fatalf("expected BlockToolOutput, got %v", parsed.Blocks[0].Type)
	}
	if len(parsed.Blocks[0].Statements) != 4 {
		t.Fatalf("expected one statement per line (4), got %d", len(parsed.Blocks[0].Statements))
	}
	for _, s := range parsed.Blocks[0].Statements {
		if s.Type != StatementCodeLine {
			t.Errorf("expected StatementCodeLine, got %v", s.Type)
		}
	}
}

func TestSplitSentencesPreservesAbbreviations(t *testing.T) {
	text := "Dr. Smith met Mrs. Jones, e.g. at noon. They discussed the plan."
	sentences := splitSentences(text)

	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %v", len(sentences), sentences)
	}
	if sentences[0] != "Dr. Smith met Mrs. Jones, e.g. at noon." {
		t.Fatalf("abbreviations not preserved in first sentence: %q", sentences[0])
	}
	if sentences[1] != "They discussed the plan." {
		t.Fatalf("unexpected second sentence: %q", sentences[1])
	}
}

func TestParseDetectsListBlocks(t *testing.T) {
	content := "- first item\n- second item\n- third item spanning\n  a continuation line"
	parsed := Parse("user", content)

	if len(parsed.Blocks) != 1 || parsed.Blocks[0].Type != BlockList {
		t.Fatalf("expected a single list block, got %+v", parsed.Blocks)
	}
	if len(parsed.Blocks[0].Statements) != 3 {
		t.Fatalf("expected 3 list items (continuation folded into the third), got %d", len(parsed.Blocks[0].Statements))
	}
}

func TestParseEmptyContent(t *testing.T) {
	parsed := Parse("user", "   \n  ")
	if len(parsed.Blocks) != 0 {
		t.Fatalf("expected no blocks for blank content, got %+v", parsed.Blocks)
	}
}
