package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrNoDocuments is returned when a service has no extracted text to answer
// from.
var ErrNoDocuments = errors.New("service has no documents with extracted text")

// maxContextChars bounds how much document text is packed into the prompt.
// Roughly 100k characters keeps well inside common model context windows.
const maxContextChars = 100_000

const systemPrompt = `You are a documentation assistant. Answer the user's question using only the provided document excerpts. If the documents do not contain the answer, say so plainly. Cite the document name when referencing specific content.`

// Answer is the result of a question against a service's documents.
type Answer struct {
	Text         string `json:"answer"`
	Model        string `json:"model,omitempty"`
	PromptTokens int64  `json:"prompt_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
}

// DocumentContext is one document's extracted text supplied as context.
type DocumentContext struct {
	Name string
	Text string
}

// Answerer answers questions over document text using a Provider.
type Answerer struct {
	provider Provider
	model    string
}

// NewAnswerer creates an Answerer backed by the given provider.
func NewAnswerer(provider Provider, model string) *Answerer {
	return &Answerer{provider: provider, model: model}
}

// Ask sends the question with the documents as context and returns the
// answer.
func (a *Answerer) Ask(ctx context.Context, question string, docs []DocumentContext) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.New("question is empty")
	}

	contextText := buildContext(docs)
	if contextText == "" {
		return nil, ErrNoDocuments
	}

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Documents:\n\n%s\n\nQuestion: %s", contextText, question)},
	}

	resp, err := a.provider.Complete(ctx, messages, Options{})
	if err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}

	return &Answer{
		Text:         resp.Content,
		Model:        a.model,
		PromptTokens: resp.PromptTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

// buildContext concatenates document texts with headers, truncating to the
// context budget. Documents are included in order until the budget runs
// out.
func buildContext(docs []DocumentContext) string {
	var b strings.Builder
	for _, doc := range docs {
		text := strings.TrimSpace(doc.Text)
		if text == "" {
			continue
		}
		header := fmt.Sprintf("--- %s ---\n", doc.Name)
		remaining := maxContextChars - b.Len() - len(header)
		if remaining <= 0 {
			break
		}
		if len(text) > remaining {
			// Cut back to a rune boundary so the prompt stays valid
			// UTF-8.
			cut := remaining
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}
		b.WriteString(header)
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
