package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kalambet/askd/internal/api"
	"github.com/kalambet/askd/internal/config"
	"github.com/kalambet/askd/internal/query"
	"github.com/kalambet/askd/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question through the running server",
	Long: `Ask a question through the running server. The question and the answer
(or the error) are recorded in the shared history.

Examples:
  askd ask "What is the capital of France?"
  askd ask --server http://10.0.0.5:5000 Explain goroutines in one sentence`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return errors.New("question is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		answer, err := askQuestion(cmd.Context(), client, question)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

// askQuestion posts question to /ask. A failed inference is still an answer
// on the server side; here it is surfaced as an error carrying that text.
func askQuestion(ctx context.Context, c *apiClient, question string) (string, error) {
	resp, err := c.post(ctx, "/ask", api.AskRequest{Question: question})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var out struct {
		Answer string `json:"answer"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return out.Answer, nil
	case out.Answer != "":
		return "", errors.New(out.Answer)
	case out.Error != "":
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, out.Error)
	default:
		return "", fmt.Errorf("server returned %d", resp.StatusCode)
	}
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent questions and answers, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		records, err := fetchHistory(cmd.Context(), client, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		if len(records) == 0 {
			fmt.Fprintln(out, "No history yet.")
			return nil
		}
		for _, rec := range records {
			writeRecord(out, rec)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", query.HistoryLimit, fmt.Sprintf("maximum number of records to show (max %d)", query.HistoryLimit))
	historyCmd.Flags().Bool("json", false, "print records as JSON")
}

func fetchHistory(ctx context.Context, c *apiClient, limit int) ([]storage.QueryRecord, error) {
	resp, err := c.get(ctx, "/history")
	if err != nil {
		return nil, err
	}

	var result api.HistoryResponse
	if err := decodeJSON(resp, &result); err != nil {
		return nil, err
	}

	records := result.History
	if records == nil {
		records = []storage.QueryRecord{}
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func writeRecord(w io.Writer, rec storage.QueryRecord) {
	fmt.Fprintf(w, "\n%s  %s\n",
		colorize(colorCyan, fmt.Sprintf("#%d", rec.ID)),
		rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
	)
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, "Q:"), rec.Question)
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, "A:"), shorten(rec.Answer, 500))
}

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored question and answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete the whole history for every user. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		msg, err := clearHistory(cmd.Context(), client)
		if err != nil {
			return err
		}
		printSuccess("%s", msg)
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm history deletion")
}

func clearHistory(ctx context.Context, c *apiClient) (string, error) {
	resp, err := c.post(ctx, "/clear_history", nil)
	if err != nil {
		return "", err
	}

	var result api.ClearResponse
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	if !result.Success {
		return "", errors.New("server did not confirm the history was cleared")
	}
	return result.Message, nil
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

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n",
				colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "($"+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: fmt.Sprintf(`Set a configuration value in the config file.

Valid keys: %s

The Gemini API key is never written to the config file; set GEMINI_API_KEY
in the environment or a .env file instead.`, strings.Join(config.ValidKeys(), ", ")),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		if _, ok := os.LookupEnv(envFor(key)); ok {
			printWarning("%s is set in the environment and takes precedence", envFor(key))
		}
		return nil
	},
}

func envFor(key string) string {
	for _, k := range config.ShowAll(config.Config{}) {
		if k.Key == key {
			return k.EnvVar
		}
	}
	return ""
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
