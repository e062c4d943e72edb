package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/docmind/internal/config"
	"github.com/kalambet/docmind/internal/document"
)

type uploadResult struct {
	DocID    string         `json:"doc_id"`
	Filename string         `json:"filename"`
	Status   document.State `json:"status"`
}

type insightsResult struct {
	Status   document.InsightsStatus `json:"status"`
	DocID    string                  `json:"doc_id"`
	Insights *document.Insights      `json:"insights,omitempty"`
	Metadata *struct {
		NumChunks int `json:"num_chunks"`
		PageCount int `json:"page_count"`
		WordCount int `json:"word_count"`
	} `json:"metadata,omitempty"`
	Error string `json:"error,omitempty"`
}

// pollInterval is how often --wait re-checks the server.
var pollInterval = time.Second

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a PDF document for indexing",
	Long: `Upload a PDF document for indexing.

Examples:
  docmind upload ./report.pdf
  docmind upload ./report.pdf --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runUpload(cmd.Context(), client, cmd.OutOrStdout(), filepath.Base(args[0]), data, wait, timeout)
	},
}

func runUpload(ctx context.Context, c *apiClient, w io.Writer, filename string, data []byte, wait bool, timeout time.Duration) error {
	resp, err := c.upload(ctx, "/upload", filename, data)
	if err != nil {
		return err
	}
	var res uploadResult
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}

	if res.Status == document.StateIngesting && wait {
		printStep("Indexing %s...", res.Filename)
		doc, err := waitForDocument(ctx, c, res.DocID, timeout)
		if err != nil {
			return err
		}
		if doc.State == document.StateError {
			return fmt.Errorf("ingest failed (%s): %s", doc.ErrorKind, doc.Error)
		}
		res.Status = doc.State
		printSuccess("Indexed %s: %d pages, %d chunks", doc.Filename, doc.PageCount, doc.NumChunks)
	} else {
		printSuccess("Uploaded %s (%s)", res.Filename, res.Status)
	}
	fmt.Fprintln(w, res.DocID)
	return nil
}

func waitForDocument(ctx context.Context, c *apiClient, docID string, timeout time.Duration) (document.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		resp, err := c.get(ctx, "/documents/"+url.PathEscape(docID))
		if err != nil {
			return document.Document{}, err
		}
		var doc document.Document
		if err := decodeJSON(resp, &doc); err != nil {
			return document.Document{}, err
		}
		if doc.State == document.StateReady || doc.State == document.StateError {
			return doc, nil
		}
		select {
		case <-ctx.Done():
			return document.Document{}, fmt.Errorf("document %s still %s after %s", docID, doc.State, timeout)
		case <-time.After(pollInterval):
		}
	}
}

func init() {
	uploadCmd.Flags().Bool("wait", false, "wait until indexing finishes")
	uploadCmd.Flags().Duration("timeout", 5*time.Minute, "how long --wait waits")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <doc_id> <question>",
	Short: "Ask a question about a document",
	Long: `Ask a question about a document. The answer cites the pages it was drawn from.

Examples:
  docmind ask 3f2a... "What is the total budget?"
  docmind ask 3f2a... "Who signed the contract?" --k 8`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), client, cmd.OutOrStdout(), args[0], strings.Join(args[1:], " "), k, asJSON)
	},
}

func runAsk(ctx context.Context, c *apiClient, w io.Writer, docID, question string, k int, asJSON bool) error {
	form := url.Values{"doc_id": {docID}, "question": {question}}
	if k > 0 {
		form.Set("k", strconv.Itoa(k))
	}
	resp, err := c.postForm(ctx, "/query", form)
	if err != nil {
		return err
	}
	var ans document.Answer
	if err := decodeJSON(resp, &ans); err != nil {
		return err
	}
	if asJSON {
		return printJSON(w, ans)
	}

	if ans.Degraded {
		printWarning("language model unavailable; showing retrieved passages")
	}
	fmt.Fprintln(w, ans.Answer)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, colorize(colorBold, "Sources:"))
		for i, s := range ans.Sources {
			fmt.Fprintf(w, "  [%d] %s, page %s of %d\n", i+1, s.Title, s.PageLabel, s.TotalPages)
		}
	}
	return nil
}

func init() {
	askCmd.Flags().Int("k", 0, "number of passages to retrieve (default: server setting)")
	askCmd.Flags().Bool("json", false, "print the raw JSON answer")
}

// --- insights ---

var insightsCmd = &cobra.Command{
	Use:   "insights <doc_id>",
	Short: "Show the summary, topics and entities of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runInsights(cmd.Context(), client, cmd.OutOrStdout(), args[0], wait, timeout, asJSON)
	},
}

func runInsights(ctx context.Context, c *apiClient, w io.Writer, docID string, wait bool, timeout time.Duration, asJSON bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res insightsResult
	for {
		resp, err := c.get(ctx, "/insights/"+url.PathEscape(docID))
		if err != nil {
			return err
		}
		res = insightsResult{}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		done := res.Status == document.InsightsReady || res.Status == document.InsightsError
		if done || !wait {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("insights for %s still %s after %s", docID, res.Status, timeout)
		case <-time.After(pollInterval):
		}
	}

	if asJSON {
		return printJSON(w, res)
	}
	switch res.Status {
	case document.InsightsError:
		return fmt.Errorf("insights failed: %s", res.Error)
	case document.InsightsReady:
		printInsights(w, res)
	default:
		printStatus("Insights", "%s (retry later or pass --wait)", res.Status)
	}
	return nil
}

func printInsights(w io.Writer, res insightsResult) {
	ins := res.Insights
	if ins == nil {
		return
	}
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintln(w, colorize(colorBold, title+":"))
		for _, it := range items {
			fmt.Fprintf(w, "  - %s\n", it)
		}
	}

	fmt.Fprintln(w, colorize(colorBold, "Summary:"))
	fmt.Fprintf(w, "  %s\n", ins.Summary)
	section("Key topics", ins.KeyTopics)
	section("Action items", ins.ActionItems)
	section("People", ins.Entities.People)
	section("Organizations", ins.Entities.Organizations)
	section("Dates", ins.Entities.Dates)
	section("Locations", ins.Entities.Locations)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Sentiment:"), ins.Sentiment)
	fmt.Fprintf(w, "%s %s, %s complexity\n", colorize(colorBold, "Reading time:"),
		ins.DocumentStats.EstimatedReadingTime, ins.DocumentStats.ComplexityScore)
	if m := res.Metadata; m != nil {
		fmt.Fprintf(w, "%s %d pages, %d words, %d chunks\n", colorize(colorBold, "Document:"), m.PageCount, m.WordCount, m.NumChunks)
	}
}

func init() {
	insightsCmd.Flags().Bool("wait", false, "poll until insights are ready")
	insightsCmd.Flags().Duration("timeout", 2*time.Minute, "how long --wait polls")
	insightsCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List, inspect and delete documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runDocsList(cmd.Context(), client, cmd.OutOrStdout(), status)
	},
}

func runDocsList(ctx context.Context, c *apiClient, w io.Writer, status string) error {
	path := "/documents"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	var docs []document.Document
	if err := decodeJSON(resp, &docs); err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(w, "%s  %s  %4d pages  %s  %s\n",
			d.ID, stateLabel(d.State), d.PageCount, d.CreatedAt.Local().Format("2006-01-02 15:04"), d.Filename)
	}
	return nil
}

func stateLabel(s document.State) string {
	text := fmt.Sprintf("%-9s", s)
	switch s {
	case document.StateReady:
		return colorize(colorGreen, text)
	case document.StateError:
		return colorize(colorRed, text)
	default:
		return colorize(colorYellow, text)
	}
}

var docsShowCmd = &cobra.Command{
	Use:   "show <doc_id>",
	Short: "Show a document's metadata as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var doc document.Document
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <doc_id>",
	Short: "Delete a document and its index entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	docsListCmd.Flags().String("status", "", "only show documents in this state (uploaded, ingesting, ready, error)")
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsShowCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and configuration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			// Still show partial status even if config fails.
			printError("config error: %v", err)
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		showStatus(cmd.Context(), client, cfg)
		return nil
	},
}

func showStatus(ctx context.Context, c *apiClient, cfg config.Config) {
	hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := c.get(hctx, "/health")
	running := false
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	default:
		resp.Body.Close()
		running = true
		printStatus("Server", "running at %s", c.baseURL)
	}

	printStatus("Engine", "%s (chat model %s)", cfg.Engine.Backend, cfg.Engine.ChatModel)
	if cfg.Embedding.Backend == "hash" {
		printStatus("Embeddings", "local hash, %d dimensions", cfg.Embedding.Dimension)
	} else {
		printStatus("Embeddings", "%s via %s", cfg.Embedding.Model, cfg.Engine.Backend)
	}

	if running {
		resp, err := c.get(ctx, "/documents")
		if err == nil {
			var docs []document.Document
			if err := decodeJSON(resp, &docs); err == nil {
				counts := make(map[document.State]int)
				for _, d := range docs {
					counts[d.State]++
				}
				printStatus("Documents", "%d (%d ready, %d ingesting, %d error)",
					len(docs), counts[document.StateReady], counts[document.StateIngesting], counts[document.StateError])
			} else {
				printStatus("Documents", "unavailable: %v", err)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Config", "%s", config.ConfigFilePath())
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
