package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// document mirrors the registry entry returned by the server.
type document struct {
	Document struct {
		ID       string `json:"document_id"`
		Filename string `json:"filename"`
		Version  int    `json:"version"`
	} `json:"document"`
	State string `json:"state"`
	Index *struct {
		Version    int       `json:"version"`
		ChunkCount int       `json:"chunk_count"`
		Dimension  int       `json:"embedding_dimension"`
		BuiltAt    time.Time `json:"built_at"`
	} `json:"index,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check docindexd server health",
		Long: `Check the health status of the docindexd server.

Examples:
  # Check health
  docctl health

  # Check health on a different server
  docctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Status    string         `json:"status"`
				Version   string         `json:"version"`
				Documents map[string]int `json:"documents"`
			}
			raw, err := call(http.MethodGet, "/health", nil, nil, &resp)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printRaw(out, raw)
			}
			fmt.Fprintf(out, "Server Status: %s\n", resp.Status)
			fmt.Fprintf(out, "Server URL: %s\n", serverURL)
			if resp.Version != "" {
				fmt.Fprintf(out, "Version: %s\n", resp.Version)
			}
			fmt.Fprintf(out, "Indexed documents: %d\n", resp.Documents["indexed"])
			return nil
		},
	}
}

func newIngestCmd() *cobra.Command {
	var (
		id    string
		build bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Register the extracted text of a document",
		Long: `Register a UTF-8 text file as a document. The document id defaults to the
file's base name.

Examples:
  # Register and index in one step
  docctl ingest --index report.txt

  # Use an explicit id
  docctl ingest --id q3-report report.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", args[0], err)
			}
			if len(text) == 0 {
				return fmt.Errorf("%s is empty", args[0])
			}
			filename := filepath.Base(args[0])
			if id == "" {
				id = filename
			}

			var doc document
			raw, err := call(http.MethodPost, "/api/v1/documents", nil, map[string]any{
				"document_id": id,
				"filename":    filename,
				"text":        string(text),
			}, &doc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput && !build {
				return printRaw(out, raw)
			}
			if !jsonOutput {
				fmt.Fprintf(out, "Registered %s (version %d)\n", doc.Document.ID, doc.Document.Version)
			}
			if build {
				return runIndex(cmd, id, 0, 0)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id (default: file name)")
	cmd.Flags().BoolVar(&build, "index", false, "build the index after registering")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var chunkSize, overlap int
	cmd := &cobra.Command{
		Use:   "index <document-id>",
		Short: "Build or rebuild a document's index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, args[0], chunkSize, overlap)
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "words per chunk (default: server setting)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "words shared by adjacent chunks (default: server setting)")
	return cmd
}

func runIndex(cmd *cobra.Command, id string, chunkSize, overlap int) error {
	var res struct {
		Version   int    `json:"version"`
		Chunks    int    `json:"total_chunks"`
		Dimension int    `json:"embedding_dimension"`
		IndexType string `json:"index_type"`
		Status    string `json:"status"`
	}
	raw, err := call(http.MethodPost, "/api/v1/documents/"+url.PathEscape(id)+"/index", nil,
		map[string]int{"chunk_size": chunkSize, "overlap": overlap}, &res)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printRaw(out, raw)
	}
	fmt.Fprintf(out, "Indexed %s: version %d, %d chunks, dimension %d (%s)\n",
		id, res.Version, res.Chunks, res.Dimension, res.IndexType)
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [document-id]",
		Short: "Show one document or list all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var docs []document
			var raw []byte
			if len(args) == 1 {
				var doc document
				var err error
				raw, err = call(http.MethodGet, "/api/v1/documents/"+url.PathEscape(args[0]), nil, nil, &doc)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			} else {
				var list struct {
					Documents []document `json:"documents"`
				}
				var err error
				raw, err = call(http.MethodGet, "/api/v1/documents", nil, nil, &list)
				if err != nil {
					return err
				}
				docs = list.Documents
			}

			if jsonOutput {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFILENAME\tSTATE\tINDEX\tCHUNKS\tERROR")
			for _, d := range docs {
				index, chunks := "-", "-"
				if d.Index != nil {
					index = fmt.Sprintf("v%d", d.Index.Version)
					chunks = fmt.Sprint(d.Index.ChunkCount)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.Document.ID, d.Document.Filename, d.State, index, chunks, d.LastError)
			}
			return w.Flush()
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove a document and its indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := call(http.MethodDelete, "/api/v1/documents/"+url.PathEscape(args[0]), nil, nil, nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
