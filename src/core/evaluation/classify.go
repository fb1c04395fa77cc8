package evaluation

import (
	"context"
	"fmt"

	"rageval/src/core/relevance"
)

// Classifier asks a judge model whether a reference text answers a query.
type Classifier struct {
	judge ChatModel
}

// NewClassifier creates a Classifier backed by judge
func NewClassifier(judge ChatModel) *Classifier {
	return &Classifier{judge: judge}
}

// Classify returns the judgment snapped onto the relevance rails together
// with the judge's raw output. Output outside the rails yields Unknown.
func (c *Classifier) Classify(ctx context.Context, query, reference string) (relevance.Judgment, string, error) {
	prompt, err := render(relevancePrompt, relevanceData{Query: query, Reference: reference})
	if err != nil {
		return relevance.Unknown, "", err
	}

	out, err := c.judge.Complete(ctx, RelevanceSystemMessage, prompt)
	if err != nil {
		return relevance.Unknown, "", fmt.Errorf("failed to classify relevance: %w", err)
	}

	return relevance.Snap(out), out, nil
}
