package session

import "testing"

func TestExtractKeywordsRanksRareTermsHigher(t *testing.T) {
	e := NewExtractor()

	// Seed the corpus so "common" appears in every document, driving its
	// idf down to the floor of 1, while "rare" appears nowhere yet.
	for i := 0; i < 10; i++ {
		e.UpdateIDF("s1", "common term appears frequently")
	}

	keywords, _, _ := e.Extract("s1", "common rare")
	if len(keywords) == 0 {
		t.Fatal("expected at least one keyword")
	}

	var rareScore, commonScore float64
	for _, k := range keywords {
		switch k.Word {
		case "rare":
			rareScore = k.Score
		case "common":
			commonScore = k.Score
		}
	}
	if rareScore <= commonScore {
		t.Fatalf("expected rare term to outscore common term: rare=%v common=%v", rareScore, commonScore)
	}
}

func TestExtractKeywordsDropsStopWordsAndShortTokens(t *testing.T) {
	e := NewExtractor()
	keywords, _, _ := e.Extract("s1", "the is a to of on at by")
	if len(keywords) != 0 {
		t.Fatalf("expected no keywords from an all-stopword string, got %v", keywords)
	}
}

func TestExtractIdentifiersClassifiesKinds(t *testing.T) {
	e := NewExtractor()
	_, identifiers, _ := e.Extract("s1", "MAX_RETRY_COUNT calls NewServer() which holds a ServerConfig and retryCount")

	kinds := make(map[string]string)
	for _, id := range identifiers {
		kinds[id.Name] = id.Kind.String()
	}

	if kinds["MAX_RETRY_COUNT"] != "constant" {
		t.Errorf("MAX_RETRY_COUNT classified as %q, want constant", kinds["MAX_RETRY_COUNT"])
	}
	if kinds["ServerConfig"] != "type" {
		t.Errorf("ServerConfig classified as %q, want type", kinds["ServerConfig"])
	}
	if kinds["retryCount"] != "variable" {
		t.Errorf("retryCount classified as %q, want variable", kinds["retryCount"])
	}
}

func TestExtractIdentifiersFunctionKind(t *testing.T) {
	e := NewExtractor()
	_, identifiers, _ := e.Extract("s1", "call doRetry() before giving up")

	for _, id := range identifiers {
		if id.Name == "doRetry" {
			if id.Kind.String() != "function" {
				t.Errorf("doRetry classified as %q, want function", id.Kind.String())
			}
			return
		}
	}
	t.Fatal("expected doRetry to be extracted as an identifier")
}

func TestExtractFilePaths(t *testing.T) {
	e := NewExtractor()
	_, _, files := e.Extract("s1", `edited internal/core/hierarchy.go and also ./scripts/run.sh`)

	if len(files) != 2 {
		t.Fatalf("expected 2 file paths, got %d: %v", len(files), files)
	}
}

func TestExtractRespectsMaxIdentifierCap(t *testing.T) {
	e := NewExtractor()
	content := ""
	for i := 0; i < 200; i++ {
		content += "myVariableNumber" + string(rune('A'+i%26)) + " "
	}

	_, identifiers, _ := e.Extract("s1", content)
	if len(identifiers) > 128 {
		t.Fatalf("identifiers exceeded MaxIdentifiers: got %d", len(identifiers))
	}
}
