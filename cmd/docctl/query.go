package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

type result struct {
	DocumentID string  `json:"document_id"`
	ChunkID    int     `json:"chunk_id"`
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	Score      float64 `json:"similarity_score"`
	Confidence string  `json:"confidence"`
	Page       int     `json:"page_number"`
}

func newQueryCmd() *cobra.Command {
	var (
		docID     string
		k         int
		threshold float64
		answer    bool
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search indexed documents",
		Long: `Search one document (--document) or every indexed document.

Examples:
  # Top 3 chunks across all documents
  docctl query -k 3 "termination notice period"

  # Only confident matches in one document
  docctl query --document contract --threshold 0.6 "termination"

  # Ask for a synthesized answer
  docctl query --answer "how long is the notice period?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"query": strings.Join(args, " "),
				"k":     k,
			}
			if docID != "" {
				body["document_id"] = docID
			}
			if cmd.Flags().Changed("threshold") {
				body["threshold"] = threshold
			}

			path := "/api/v1/query"
			if answer {
				path = "/api/v1/answer"
			}
			var resp struct {
				Answer  string   `json:"answer"`
				Results []result `json:"results"`
			}
			raw, err := call(http.MethodPost, path, nil, body, &resp)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printRaw(out, raw)
			}
			if answer {
				if resp.Answer == "" {
					fmt.Fprintln(out, "No answer: nothing relevant was found.")
				} else {
					fmt.Fprintf(out, "%s\n\n", resp.Answer)
				}
			}
			if len(resp.Results) == 0 {
				if !answer {
					fmt.Fprintln(out, "No results.")
				}
				return nil
			}
			for i, r := range resp.Results {
				fmt.Fprintf(out, "[%d] %s p.%d chunk %d  score %.3f (%s)\n",
					i+1, r.Filename, r.Page, r.ChunkID, r.Score, r.Confidence)
				if !answer {
					fmt.Fprintf(out, "    %s\n", snippet(r.Text, 160))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&docID, "document", "", "restrict the search to one document")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of results (default: server setting)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity score in [-1, 1]")
	cmd.Flags().BoolVar(&answer, "answer", false, "synthesize an answer from the results")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "summary <document-id>",
		Short: "Summarize a registered document",
		Long: `Summarize a registered document. Types: short, general, detailed,
bullet_points, key_points.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Summary   string `json:"summary"`
				WordCount int    `json:"word_count"`
				Type      string `json:"type"`
			}
			q := url.Values{"document_id": {args[0]}}
			if kind != "" {
				q.Set("type", kind)
			}
			raw, err := call(http.MethodGet, "/api/v1/summaries", q, nil, &resp)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printRaw(out, raw)
			}
			fmt.Fprintf(out, "%s\n\n(%s, %d words)\n", resp.Summary, resp.Type, resp.WordCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "summary type (default: short)")
	return cmd
}

// snippet collapses whitespace and clips s to n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
