package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

type fakeProvider struct {
	reply    string
	err      error
	lastMsgs []Message
}

func (p *fakeProvider) Complete(_ context.Context, messages []Message, _ Options) (*Response, error) {
	p.lastMsgs = messages
	if p.err != nil {
		return nil, p.err
	}
	return &Response{Content: p.reply, PromptTokens: 42, OutputTokens: 7}, nil
}

func (p *fakeProvider) Name() string    { return "fake" }
func (p *fakeProvider) Available() bool { return true }

func TestAsk(t *testing.T) {
	provider := &fakeProvider{reply: "The retention period is 90 days."}
	a := NewAnswerer(provider, "test-model")

	docs := []DocumentContext{
		{Name: "policy.txt", Text: "Logs are retained for 90 days."},
		{Name: "faq.md", Text: "See the policy document."},
	}
	answer, err := a.Ask(context.Background(), "How long are logs kept?", docs)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.Text != "The retention period is 90 days." {
		t.Errorf("answer = %q", answer.Text)
	}
	if answer.Model != "test-model" {
		t.Errorf("model = %q", answer.Model)
	}
	if answer.PromptTokens != 42 || answer.OutputTokens != 7 {
		t.Errorf("token counts = %d/%d", answer.PromptTokens, answer.OutputTokens)
	}

	if len(provider.lastMsgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(provider.lastMsgs))
	}
	if provider.lastMsgs[0].Role != "system" {
		t.Errorf("first message role = %q", provider.lastMsgs[0].Role)
	}
	prompt := provider.lastMsgs[1].Content
	for _, want := range []string{"--- policy.txt ---", "retained for 90 days", "--- faq.md ---", "How long are logs kept?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	a := NewAnswerer(&fakeProvider{reply: "unused"}, "m")

	_, err := a.Ask(context.Background(), "   ", []DocumentContext{{Name: "a", Text: "text"}})
	if err == nil {
		t.Fatal("expected error for blank question")
	}
}

func TestAsk_NoDocuments(t *testing.T) {
	a := NewAnswerer(&fakeProvider{reply: "unused"}, "m")

	for _, tt := range []struct {
		name string
		docs []DocumentContext
	}{
		{"nil", nil},
		{"empty slice", []DocumentContext{}},
		{"whitespace only", []DocumentContext{{Name: "a", Text: "  \n\t "}}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Ask(context.Background(), "Q?", tt.docs)
			if !errors.Is(err, ErrNoDocuments) {
				t.Errorf("expected ErrNoDocuments, got %v", err)
			}
		})
	}
}

func TestAsk_ProviderError(t *testing.T) {
	wantErr := errors.New("upstream unavailable")
	a := NewAnswerer(&fakeProvider{err: wantErr}, "m")

	_, err := a.Ask(context.Background(), "Q?", []DocumentContext{{Name: "a", Text: "text"}})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
}

func TestBuildContext_SkipsEmptyAndKeepsOrder(t *testing.T) {
	got := buildContext([]DocumentContext{
		{Name: "first.txt", Text: "alpha"},
		{Name: "empty.txt", Text: "   "},
		{Name: "second.txt", Text: "beta"},
	})

	first := strings.Index(got, "--- first.txt ---")
	second := strings.Index(got, "--- second.txt ---")
	if first == -1 || second == -1 || first > second {
		t.Errorf("documents out of order or missing:\n%s", got)
	}
	if strings.Contains(got, "empty.txt") {
		t.Error("blank document should be skipped")
	}
}

func TestBuildContext_TruncatesOnRuneBoundary(t *testing.T) {
	// Size the text so a multi-byte rune straddles the budget boundary.
	header := len("--- big.txt ---\n")
	fill := maxContextChars - header
	text := strings.Repeat("x", fill-1) + "日本語"

	got := buildContext([]DocumentContext{{Name: "big.txt", Text: text}})
	if len(got) > maxContextChars {
		t.Errorf("context length %d exceeds budget %d", len(got), maxContextChars)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated context is not valid UTF-8")
	}
}

func TestBuildContext_TruncatesToBudget(t *testing.T) {
	big := strings.Repeat("x", maxContextChars)
	got := buildContext([]DocumentContext{
		{Name: "big.txt", Text: big},
		{Name: "late.txt", Text: "never included"},
	})

	if len(got) > maxContextChars {
		t.Errorf("context length %d exceeds budget %d", len(got), maxContextChars)
	}
	if strings.Contains(got, "late.txt") {
		t.Error("document past the budget should be dropped")
	}
	if !strings.HasPrefix(got, "--- big.txt ---") {
		t.Error("first document header missing")
	}
}
