package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"cardassist/internal/domain"
)

// NoContextAnswer is returned without any model call when retrieval found
// nothing usable.
const NoContextAnswer = "I don't have enough information to answer this question."

const systemPromptTemplate = `You are a helpful assistant that answers questions ONLY using the provided context.

RULES:
1. Only use information from the context below
2. If the answer is not in the context, respond: "I don't have enough information to answer this question."
3. Do not use external knowledge or make assumptions
4. Keep answers concise and factual
5. Quote relevant parts of the context when appropriate
6. **FORMATTING**: Use Markdown for headers, lists, and bold text. Do NOT use HTML tags.

CONTEXT:
%s

QUESTION:
%s

ANSWER:`

// Generator turns a question plus retrieved context into the final answer.
// This boundary is user-facing: it never returns an error, only answer
// values.
type Generator struct {
	model       domain.ChatModel
	temperature float32
	maxTokens   int
	log         *logrus.Logger
}

// New builds a generator around a chat model.
func New(model domain.ChatModel, temperature float32, maxTokens int, log *logrus.Logger) *Generator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Generator{model: model, temperature: temperature, maxTokens: maxTokens, log: log}
}

// GenerateAnswer answers strictly from the supplied context. Empty context
// short-circuits to the fixed fallback before any model call; a failed model
// call yields an error-shaped answer.
func (g *Generator) GenerateAnswer(ctx context.Context, question, contextText string) domain.Answer {
	if strings.TrimSpace(contextText) == "" {
		g.log.WithField("question", question).Debug("no context retrieved, returning fallback")
		return domain.Answer{Text: NoContextAnswer, HasContext: false}
	}

	prompt := fmt.Sprintf(systemPromptTemplate, contextText, question)
	text, err := g.model.Complete(ctx, domain.ChatRequest{
		System:      prompt,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		g.log.WithError(err).WithField("question", question).Error("answer generation failed")
		return domain.Answer{
			Text:       fmt.Sprintf("Error generating answer: %v", err),
			HasContext: true,
			Err:        err.Error(),
		}
	}
	return domain.Answer{Text: text, HasContext: true}
}

// Validation captures review findings on a generated answer.
type Validation struct {
	Valid     bool
	NoContext bool
	Issues    []string
}

var externalKnowledgePhrases = []string{
	"as far as i know",
	"based on my knowledge",
	"generally speaking",
	"typically",
	"in my experience",
}

// ValidateAnswer flags answers that look too short or leak knowledge from
// outside the supplied context.
func ValidateAnswer(answer string) Validation {
	var issues []string
	if len(answer) < 10 {
		issues = append(issues, "answer is very short")
	}
	lower := strings.ToLower(answer)
	for _, phrase := range externalKnowledgePhrases {
		if strings.Contains(lower, phrase) {
			issues = append(issues, fmt.Sprintf("possible external knowledge usage: %q", phrase))
		}
	}
	return Validation{
		Valid:     len(issues) == 0,
		NoContext: strings.TrimSpace(answer) == NoContextAnswer,
		Issues:    issues,
	}
}
