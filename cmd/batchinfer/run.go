package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/batchinfer/internal/dispatch"
	"github.com/stellarlinkco/batchinfer/internal/generator"
	"github.com/stellarlinkco/batchinfer/internal/store"
)

type runOptions struct {
	provider    string
	input       string
	output      string
	rate        float64
	maxRetries  int
	temperature float64
	topP        float64
	maxTokens   int
	timeout     time.Duration
	noProgress  bool
	noHistory   bool
}

func newRunCmd(st *cliState) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch a batch of requests from a JSONL file",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return st.loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, st, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.provider, "provider", "", "generator to use (overrides config default)")
	cmd.Flags().StringVar(&opts.input, "input", "", "JSONL file of request payloads (required)")
	cmd.Flags().StringVar(&opts.output, "output", "", "output file, one JSON-encoded response per line (default stdout)")
	cmd.Flags().Float64Var(&opts.rate, "rate", -1, "requests per second (overrides config)")
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", -1, "max retries per request (overrides config)")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", -1, "sampling temperature (overrides config)")
	cmd.Flags().Float64Var(&opts.topP, "top-p", -1, "top-p sampling (overrides config)")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", -1, "max output tokens (overrides config)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "run-level timeout (overrides config)")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "do not record the run")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runBatch(cmd *cobra.Command, st *cliState, opts *runOptions) error {
	requests, err := readRequests(opts.input)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return fmt.Errorf("batchinfer: no requests in %q", opts.input)
	}

	logger, err := st.newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg, err := generator.NewRegistryFromConfig(st.cfg)
	if err != nil {
		return err
	}
	providerName := strings.TrimSpace(opts.provider)
	var gen generator.Generator
	if providerName != "" {
		g, ok := reg.Get(providerName)
		if !ok {
			return fmt.Errorf("batchinfer: unknown provider %q", providerName)
		}
		gen = g
	} else {
		g, err := generator.DefaultFromConfig(st.cfg)
		if err != nil {
			return err
		}
		gen = g
	}

	dcfg := st.cfg.Dispatch
	dopts := dispatch.Options{
		Rate:      dcfg.Rate,
		WorkerCap: dcfg.WorkerCap,
		Retry: dispatch.RetryPolicy{
			MaxRetries:        dcfg.MaxRetries,
			BaseDelay:         dcfg.BaseDelay,
			BackoffMultiplier: dcfg.BackoffMultiplier,
			JitterFraction:    dcfg.JitterFraction,
		},
		Params: generator.Params{
			Temperature: dcfg.Temperature,
			TopP:        dcfg.TopP,
			MaxTokens:   dcfg.MaxTokens,
		},
		Timeout: dcfg.Timeout,
		Logger:  logger,
	}
	if opts.rate > 0 {
		dopts.Rate = opts.rate
	}
	if opts.maxRetries >= 0 {
		dopts.Retry.MaxRetries = opts.maxRetries
	}
	if opts.temperature >= 0 {
		dopts.Params.Temperature = opts.temperature
	}
	if opts.topP >= 0 {
		dopts.Params.TopP = opts.topP
	}
	if opts.maxTokens > 0 {
		dopts.Params.MaxTokens = opts.maxTokens
	}
	if opts.timeout > 0 {
		dopts.Timeout = opts.timeout
	}

	var bar *progressbar.ProgressBar
	if !opts.noProgress {
		bar = progressbar.NewOptions(len(requests),
			progressbar.OptionSetDescription("Processing requests"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
		)
		dopts.OnProgress = func(completed, total int) {
			_ = bar.Set(completed)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	d := dispatch.New(gen, dopts)
	res, err := d.Run(ctx, requests)
	if err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	if err := writeOutcomes(opts.output, res); err != nil {
		return err
	}

	printSummary(gen.Name(), res)

	if !opts.noHistory {
		if err := saveRun(ctx, st, gen.Name(), providerName, res); err != nil {
			// History is best-effort; the batch output is already written.
			fmt.Fprintf(stderrWriter, "batchinfer: save run history: %v\n", err)
		}
	}
	return nil
}

// readRequests parses one request per line: a JSON object with "messages",
// a JSON string, or a bare prompt line.
func readRequests(path string) ([]generator.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("batchinfer: open input: %w", err)
	}
	defer f.Close()

	var out []generator.Request
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		switch line[0] {
		case '{':
			var req generator.Request
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				return nil, fmt.Errorf("batchinfer: input line %d: %w", lineNum, err)
			}
			if len(req.Messages) == 0 {
				return nil, fmt.Errorf("batchinfer: input line %d: no messages", lineNum)
			}
			out = append(out, req)
		case '"':
			var prompt string
			if err := json.Unmarshal([]byte(line), &prompt); err != nil {
				return nil, fmt.Errorf("batchinfer: input line %d: %w", lineNum, err)
			}
			out = append(out, generator.UserRequest(prompt))
		default:
			out = append(out, generator.UserRequest(line))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("batchinfer: read input: %w", err)
	}
	return out, nil
}

// writeOutcomes emits one JSON-encoded string per request, in input order.
// Failures carry the "Error:" marker inside the string.
func writeOutcomes(path string, res *dispatch.BatchResult) error {
	out := os.Stdout
	if strings.TrimSpace(path) != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("batchinfer: create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	for _, o := range res.Outcomes {
		b, err := json.Marshal(o.String())
		if err != nil {
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return w.Flush()
}

func printSummary(provider string, res *dispatch.BatchResult) {
	s := res.Stats

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	_, _ = bold.Printf("Provider: %s\n", provider)
	fmt.Printf("Total:    %d\n", s.Total)
	_, _ = green.Printf("Success:  %d\n", s.Success)
	if s.Fail > 0 {
		_, _ = red.Printf("Failed:   %d\n", s.Fail)
	} else {
		fmt.Printf("Failed:   %d\n", s.Fail)
	}
	fmt.Printf("Retries:  %d\n", s.Retries)
	if s.Success > 0 {
		fmt.Printf("Avg latency: %s\n", s.AvgLatency.Round(time.Millisecond))
	}
	fmt.Printf("Wall time:   %s\n", res.Wall.Round(time.Millisecond))
}

func saveRun(ctx context.Context, st *cliState, genName, providerName string, res *dispatch.BatchResult) error {
	sto, err := store.Open(st.cfg)
	if err != nil {
		return err
	}
	defer sto.Close()

	runID, err := newRunID()
	if err != nil {
		return err
	}

	model := ""
	key := strings.ToLower(strings.TrimSpace(providerName))
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(st.cfg.LLM.DefaultProvider))
	}
	if pcfg, ok := st.cfg.LLM.Providers[key]; ok {
		model = pcfg.Model
	}

	rec := &store.RunRecord{
		ID:             runID,
		Provider:       genName,
		Model:          model,
		Total:          res.Stats.Total,
		Success:        res.Stats.Success,
		Fail:           res.Stats.Fail,
		Retries:        res.Stats.Retries,
		TotalLatencyMs: res.Stats.TotalLatency.Milliseconds(),
		WallMs:         res.Wall.Milliseconds(),
		CreatedAt:      time.Now(),
	}
	if err := sto.SaveRun(ctx, rec); err != nil {
		return err
	}
	return nil
}

func newRunID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("run_%s_%x", time.Now().UTC().Format("20060102T150405Z"), buf), nil
}
