package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	ashspec "github.com/Borislavv/go-ash-speculate"
	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/internal/scorer/synthetic"
	"github.com/Borislavv/go-ash-speculate/model"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type runOptions struct {
	config     string
	prompt     string
	dumpPath   string
	logLevel   string
	vocab      int
	layers     int
	headDim    int
	draftNoise float64
}

func NewCLI() *cobra.Command {
	root := &cobra.Command{
		Use:           "ashspec",
		Short:         "Speculative decoding over a bounded KV cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), configCmd())
	return root
}

func runCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate with synthetic draft and target scorers",
		Long: `Generate num_samples continuations of a prompt of token ids.
The draft and target are deterministic synthetic scorers sharing a scripted
next-token rule, so the draft agrees with the target most of the time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.config, "config", "c", "", "path to a yaml config (defaults when empty)")
	f.StringVarP(&opts.prompt, "prompt", "p", "1,2,3,4,5,6,7,8", "comma separated prompt token ids")
	f.StringVar(&opts.dumpPath, "dump", "", "write the target cache snapshot to this path")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	f.IntVar(&opts.vocab, "vocab", 256, "synthetic vocabulary size")
	f.IntVar(&opts.layers, "layers", 4, "synthetic layer count")
	f.IntVar(&opts.headDim, "head-dim", 8, "synthetic key/value dimension")
	f.Float64Var(&opts.draftNoise, "draft-noise", 2, "logit noise of the draft scorer")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration as yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			cfg.Telemetry = &config.TelemetryCfg{}
			cfg.Persistence = &config.PersistenceCfg{}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func run(cmd *cobra.Command, opts *runOptions) error {
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()})
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slogLevel(level)}))

	cfg := config.Default()
	if opts.config != "" {
		if cfg, err = config.LoadConfig(opts.config); err != nil {
			return err
		}
	} else {
		cfg.AdjustConfig()
	}
	if opts.dumpPath != "" {
		if cfg.Persistence == nil {
			cfg.Persistence = &config.PersistenceCfg{}
		}
		cfg.Persistence.Path = opts.dumpPath
	}

	prompt, err := parsePrompt(opts.prompt, opts.vocab)
	if err != nil {
		return err
	}

	spec := model.ModelSpec{VocabSize: opts.vocab, NumLayers: opts.layers, HeadDim: opts.headDim}
	next := synthetic.WithNext(func(t model.Token) int32 { return (t.ID*31 + 7) % int32(spec.VocabSize) })
	draft := synthetic.New(spec, cfg.Speculation.Seed+1, next, synthetic.WithNoise(opts.draftNoise))
	target := synthetic.New(spec, cfg.Speculation.Seed, next)

	engine, err := ashspec.New(cmd.Context(), cfg, logger, draft, target)
	if err != nil {
		return err
	}
	defer engine.Close()

	log.Info().
		Str("strategy", string(cfg.Cache.Strategy)).
		Int("speculate_k", cfg.Speculation.SpeculateK).
		Int("samples", cfg.Session.NumSamples).
		Int("prompt", len(prompt)).
		Msg("generating")

	results, err := engine.Generate(cmd.Context(), prompt)
	printResults(cmd.OutOrStdout(), results)
	if err != nil {
		return err
	}
	if cfg.Persistence.Enabled() {
		log.Info().Str("path", cfg.Persistence.Path).Msg("target cache dumped")
	}
	return nil
}

// printResults writes one table row per sample followed by the generated ids.
func printResults(w io.Writer, results []*ashspec.Result) {
	data := make([][]string, 0, len(results))
	for i, res := range results {
		if res == nil {
			continue
		}
		d := res.Diagnostics
		data = append(data, []string{
			strconv.Itoa(i),
			d.Policy,
			strconv.Itoa(len(res.Tokens)),
			strconv.Itoa(d.Rounds),
			fmt.Sprintf("%.3f", d.AcceptanceRate),
			fmt.Sprintf("%.3f/%.3f", d.MeanCompression, d.FinalCompression),
			fmt.Sprintf("%.3f", d.MeanRecovered),
			fmt.Sprintf("%d/%d/%d", d.PromptEvicted, d.Evicted, d.HardEvicted),
			string(d.Stop),
			fmt.Sprintf("%016x", d.Digest),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"SAMPLE", "POLICY", "TOKENS", "ROUNDS", "ACCEPTANCE", "COMPRESSION", "RECOVERED", "EVICTED", "STOP", "DIGEST"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	for i, res := range results {
		if res != nil {
			fmt.Fprintf(w, "sample %d %s: %v\n", i, res.ID, res.IDs())
		}
	}
}

func parsePrompt(s string, vocab int) ([]int32, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]int32, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("prompt token %q: %w", f, err)
		}
		if id < 0 || int(id) >= vocab {
			return nil, fmt.Errorf("prompt token %d outside vocabulary of %d", id, vocab)
		}
		out = append(out, int32(id))
	}
	return out, nil
}

func slogLevel(l zerolog.Level) slog.Level {
	switch {
	case l <= zerolog.DebugLevel:
		return slog.LevelDebug
	case l == zerolog.InfoLevel:
		return slog.LevelInfo
	case l == zerolog.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
