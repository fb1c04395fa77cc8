package evaluation

import (
	"bytes"
	"fmt"
	"text/template"
)

const (
	QASystemMessage = `You are a helpful assistant. Answer the question using only the provided context.
If the context does not contain the answer, say that you do not know.`

	QAPromptTmpl = `Context information is below.
---------------------
{{range .Documents}}{{.Content}}
{{end}}---------------------
Given the context information and not prior knowledge, answer the question.
Question: {{.Query}}
Answer:`

	RelevanceSystemMessage = `You are an impartial judge of search results.`

	RelevancePromptTmpl = `You are comparing a reference text to a question and trying to determine if the reference text
contains information relevant to answering the question. Here is the data:
    [BEGIN DATA]
    ************
    [Question]: {{.Query}}
    ************
    [Reference text]: {{.Reference}}
    [END DATA]

Compare the Question above to the Reference text. You must determine whether the Reference text
contains information that can answer the Question. Please focus on whether the very specific
question can be answered by the information in the Reference text.
Your response must be single word, either "relevant" or "irrelevant",
and should not contain any text or characters aside from that word.
"irrelevant" means that the reference text does not contain an answer to the Question.
"relevant" means the reference text contains an answer to the Question.`
)

var (
	qaPrompt        = template.Must(template.New("qa").Parse(QAPromptTmpl))
	relevancePrompt = template.Must(template.New("relevance").Parse(RelevancePromptTmpl))
)

type qaData struct {
	Query     string
	Documents []Retrieved
}

type relevanceData struct {
	Query     string
	Reference string
}

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}
