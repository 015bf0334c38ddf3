package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/sectiond/internal/cache"
	"github.com/kalambet/sectiond/internal/config"
	"github.com/kalambet/sectiond/internal/generate"
	"github.com/kalambet/sectiond/internal/render"
	"github.com/kalambet/sectiond/internal/sections"
)

// --- assemble ---

var assembleCmd = &cobra.Command{
	Use:   "assemble [text]",
	Short: "Split model output into titled sections",
	Long: `Split model output into titled sections. Runs locally; no server needed.

Examples:
  sectiond assemble --file answer.txt
  sectiond assemble --file report.pdf --format pretty
  pbpaste | sectiond assemble --delimited --format markdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		delimited, _ := cmd.Flags().GetBool("delimited")
		format, _ := cmd.Flags().GetString("format")
		width, _ := cmd.Flags().GetInt("width")

		text, err := readInput(args, file, cmd.InOrStdin())
		if err != nil {
			return err
		}

		var secs []sections.Section
		if delimited {
			secs = sections.AssembleDelimited(text)
		} else {
			secs = sections.Assemble(text)
		}
		return writeSections(cmd.OutOrStdout(), secs, format, width)
	},
}

func init() {
	assembleCmd.Flags().String("file", "", "read input from a file (.pdf is converted to text)")
	assembleCmd.Flags().Bool("delimited", false, "expect ###NAME### delimited blocks")
	addFormatFlags(assembleCmd)
}

func addFormatFlags(cmd *cobra.Command) {
	cmd.Flags().String("format", formatJSON, "output format: json, text, markdown or pretty")
	cmd.Flags().Int("width", 80, "wrap width for pretty output")
}

// --- key ---

var keyCmd = &cobra.Command{
	Use:   "key <namespace> [payload]",
	Short: "Print the cache key for a JSON payload",
	Long: `Print the cache key a payload is stored under. Runs locally.

Examples:
  sectiond key diagnosis '{"company":"Acme"}'
  sectiond key proposal --file payload.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		payload, err := readPayload(args[1:], file, cmd.InOrStdin())
		if err != nil {
			return err
		}
		key, err := cache.KeyFor(args[0], payload)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	keyCmd.Flags().String("file", "", "read the payload from a file")
}

// readPayload reads a JSON payload the way readInput reads text and
// normalizes it the way the server does before keying.
func readPayload(args []string, file string, stdin io.Reader) (json.RawMessage, error) {
	raw, err := readInput(args, file, stdin)
	if err != nil {
		return nil, err
	}
	return generate.NormalizePayload(json.RawMessage(raw))
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <operation> [payload]",
	Short: "Run an operation through the server's regeneration cache",
	Long: `Run an operation through the server's regeneration cache.

Examples:
  sectiond generate diagnosis '{"company":"Acme","pains":["churn"]}'
  sectiond generate proposal --file payload.json --format pretty
  sectiond generate diagnosis --file payload.json --force --printable`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		force, _ := cmd.Flags().GetBool("force")
		printable, _ := cmd.Flags().GetBool("printable")
		format, _ := cmd.Flags().GetString("format")
		width, _ := cmd.Flags().GetInt("width")

		payload, err := readPayload(args[1:], file, cmd.InOrStdin())
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := runGenerate(cmd.Context(), client, args[0], payload, force)
		if err != nil {
			return err
		}

		if res.Cached {
			printStep("served from cache (%s)", res.Key)
		} else {
			printStep("generated %s", res.Key)
		}

		out := cmd.OutOrStdout()
		if printable {
			return writePrintable(out, res.Sections, format, width)
		}
		if format == formatJSON {
			return writeJSON(out, res)
		}
		return writeSections(out, res.Sections, format, width)
	},
}

func init() {
	generateCmd.Flags().String("file", "", "read the payload from a file")
	generateCmd.Flags().Bool("force", false, "bypass the cache and regenerate")
	generateCmd.Flags().Bool("printable", false, "lay the sections out as a printable document")
	addFormatFlags(generateCmd)
}

func runGenerate(ctx context.Context, client *apiClient, operation string, payload json.RawMessage, force bool) (generate.Result, error) {
	body := map[string]any{
		"payload":          payload,
		"force_regenerate": force,
	}
	resp, err := client.post(ctx, "/v1/generate/"+url.PathEscape(operation), body)
	if err != nil {
		return generate.Result{}, err
	}
	var res generate.Result
	if err := decodeJSON(resp, &res); err != nil {
		return generate.Result{}, err
	}
	return res, nil
}

// writePrintable maps secs onto the default document layout and reports
// the terms that came back empty.
func writePrintable(w io.Writer, secs []sections.Section, format string, width int) error {
	doc := render.Printable(secs, nil)
	for _, key := range doc.Missing() {
		printWarning("no content for %s", key)
	}

	switch format {
	case formatJSON:
		return writeJSON(w, doc)
	case formatPretty:
		out, err := render.Terminal(doc.Markdown(), width)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, out)
		return err
	default:
		_, err := fmt.Fprintln(w, doc.Markdown())
		return err
	}
}

// --- operations ---

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "List the operations the server can run",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/operations")
		if err != nil {
			return err
		}
		var ops []generate.Operation
		if err := decodeJSON(resp, &ops); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, op := range ops {
			mode := "free"
			switch {
			case op.Delimited:
				mode = "delimited"
			case op.JSON:
				mode = "json"
			}
			fmt.Fprintf(out, "%s  %s\n", colorize(colorBold, op.Name), colorize(colorCyan, mode))
			if op.Description != "" {
				fmt.Fprintf(out, "  %s\n", op.Description)
			}
		}
		return nil
	},
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Queue generations for the background worker",
}

type jobStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
	ResultID  string `json:"result_id"`
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <operation> [payload]",
	Short: "Queue an operation and return its job id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		force, _ := cmd.Flags().GetBool("force")
		wait, _ := cmd.Flags().GetDuration("wait")

		payload, err := readPayload(args[1:], file, cmd.InOrStdin())
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/jobs", generate.Request{
			Operation: args[0],
			Payload:   payload,
			Force:     force,
		})
		if err != nil {
			return err
		}
		var queued jobStatus
		if err := decodeJSON(resp, &queued); err != nil {
			return err
		}
		printSuccess("Queued job %s", queued.ID)
		if wait <= 0 {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), wait)
		defer cancel()
		job, err := waitForJob(ctx, client, queued.ID, time.Second)
		if err != nil {
			return err
		}
		return reportJob(cmd.OutOrStdout(), job)
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		job, err := getJob(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		return reportJob(cmd.OutOrStdout(), job)
	},
}

func init() {
	jobsEnqueueCmd.Flags().String("file", "", "read the payload from a file")
	jobsEnqueueCmd.Flags().Bool("force", false, "bypass the cache and regenerate")
	jobsEnqueueCmd.Flags().Duration("wait", 0, "wait up to this long for the job to finish")
	jobsCmd.AddCommand(jobsEnqueueCmd, jobsShowCmd)
}

func getJob(ctx context.Context, client *apiClient, id string) (jobStatus, error) {
	resp, err := client.get(ctx, "/v1/jobs/"+url.PathEscape(id))
	if err != nil {
		return jobStatus{}, err
	}
	var job jobStatus
	if err := decodeJSON(resp, &job); err != nil {
		return jobStatus{}, err
	}
	return job, nil
}

// waitForJob polls until the job completes or fails for good, or ctx
// ends. Retried jobs go back to pending and keep the loop going.
func waitForJob(ctx context.Context, client *apiClient, id string, every time.Duration) (jobStatus, error) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		job, err := getJob(ctx, client, id)
		if err != nil {
			return jobStatus{}, err
		}
		if job.Status == "completed" || job.Status == "failed" {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("job %s still %s: %w", id, job.Status, ctx.Err())
		case <-t.C:
		}
	}
}

func reportJob(w io.Writer, job jobStatus) error {
	printStatus("Job", "%s", job.ID)
	printStatus("Status", "%s (attempts: %d)", job.Status, job.Attempts)
	if job.LastError != "" {
		printStatus("Error", "%s", job.LastError)
	}
	if job.ResultID != "" {
		fmt.Fprintln(w, job.ResultID)
	}
	return nil
}

// --- generations ---

var generationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "Browse stored generations",
}

type generationSummary struct {
	ID        string             `json:"id"`
	Operation string             `json:"operation"`
	Key       string             `json:"key"`
	Model     string             `json:"model"`
	Sections  []sections.Section `json:"sections"`
	RawOutput string             `json:"raw_output"`
	CreatedAt time.Time          `json:"created_at"`
}

var generationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		operation, _ := cmd.Flags().GetString("operation")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), generationsPath(limit, offset, operation))
		if err != nil {
			return err
		}
		var gens []generationSummary
		if err := decodeJSON(resp, &gens); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(gens) == 0 {
			fmt.Fprintln(out, "No generations stored.")
			return nil
		}
		for _, g := range gens {
			fmt.Fprintf(out, "%s  %s  %s  %s\n",
				colorize(colorBold, g.ID),
				g.CreatedAt.Local().Format("2006-01-02 15:04"),
				colorize(colorCyan, g.Operation),
				strings.Join(sections.Titles(g.Sections), " | "))
		}
		return nil
	},
}

var generationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		width, _ := cmd.Flags().GetInt("width")
		raw, _ := cmd.Flags().GetBool("raw")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/generations/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var g generationSummary
		if err := decodeJSON(resp, &g); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if raw {
			_, err := fmt.Fprintln(out, g.RawOutput)
			return err
		}
		if format == formatJSON {
			return writeJSON(out, g)
		}
		printStatus("Operation", "%s", g.Operation)
		printStatus("Key", "%s", g.Key)
		if g.Model != "" {
			printStatus("Model", "%s", g.Model)
		}
		return writeSections(out, g.Sections, format, width)
	},
}

var generationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/generations/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted generation %s", args[0])
		return nil
	},
}

func init() {
	generationsListCmd.Flags().Int("limit", 20, "maximum number of generations")
	generationsListCmd.Flags().Int("offset", 0, "number of generations to skip")
	generationsListCmd.Flags().String("operation", "", "only list this operation")
	generationsShowCmd.Flags().Bool("raw", false, "print the unprocessed model output")
	addFormatFlags(generationsShowCmd)
	generationsCmd.AddCommand(generationsListCmd, generationsShowCmd, generationsDeleteCmd)
}

func generationsPath(limit, offset int, operation string) string {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	if operation != "" {
		q.Set("operation", operation)
	}
	return "/v1/generations?" + q.Encode()
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

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		fmt.Fprintf(out, "\nConfig file: %s\n", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: fmt.Sprintf(`Set a configuration value in the config file.

Valid keys: %s`, strings.Join(config.ValidKeys(), ", ")),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <provider> [value]",
	Short: "Store a provider API key in the secret store",
	Long: `Store a provider API key in the secret store. The value is read from
stdin when omitted, so it stays out of shell history.

Examples:
  sectiond config set-secret openrouter
  sectiond config set-secret gemini "$GEMINI_KEY"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := strings.ToLower(args[0])
		value, err := readInput(args[1:], "", cmd.InOrStdin())
		if err != nil {
			return err
		}
		if err := config.SetSecret(provider, strings.TrimSpace(value)); err != nil {
			return err
		}
		printSuccess("Stored API key for %s", provider)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configSetSecretCmd)
}
