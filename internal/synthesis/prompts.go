package synthesis

import (
	"strings"
	"text/template"

	"github.com/fyrsmithlabs/docindex/internal/domain"
)

const systemPrompt = "You are a careful assistant that works only from the document text you are given. " +
	"If the text does not contain the answer, say so."

var summaryTemplates = map[SummaryType]*template.Template{
	SummaryShort: mustParse("short", `Summarize the following document in two or three sentences.

{{.Text}}`),
	SummaryGeneral: mustParse("general", `Write a concise summary of the following document covering its purpose, main content and conclusions.

{{.Text}}`),
	SummaryDetailed: mustParse("detailed", `Write a detailed, section-by-section summary of the following document. Keep names, figures and dates exact.

{{.Text}}`),
	SummaryBulletPoints: mustParse("bullet_points", `Summarize the following document as a list of short bullet points, one idea per bullet.

{{.Text}}`),
	SummaryKeyPoints: mustParse("key_points", `List the key points, decisions and action items in the following document, most important first.

{{.Text}}`),
}

var answerTemplate = mustParse("answer", `Answer the question using only the numbered excerpts below. Cite excerpts by number, like [1].

{{range $i, $c := .Contexts}}[{{inc $i}}] {{$c.Filename}}, page {{$c.Page}}:
{{$c.Text}}

{{end}}Question: {{.Question}}`)

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).Parse(text))
}

func renderSummary(t SummaryType, text string) (string, error) {
	tmpl, ok := summaryTemplates[t]
	if !ok {
		return "", errUnknownType(t)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, struct{ Text string }{text}); err != nil {
		return "", err
	}
	return b.String(), nil
}

func renderAnswer(question string, contexts []domain.QueryResult) (string, error) {
	var b strings.Builder
	err := answerTemplate.Execute(&b, struct {
		Question string
		Contexts []domain.QueryResult
	}{question, contexts})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
