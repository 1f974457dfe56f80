package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-digest/internal/audio"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/narration"
	"github.com/loqalabs/loqa-digest/internal/tts"
)

// options holds flags shared by every subcommand.
type options struct {
	configPath string
	verbose    bool
}

func (o *options) config() (config.Config, error) {
	if o.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(o.configPath)
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "loqa-narrate",
		Short:         "Clean, chunk and narrate text",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file path (defaults apply when empty)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log pipeline progress to stderr")

	root.AddCommand(
		newNarrateCommand(opts),
		newCleanCommand(),
		newChunksCommand(opts),
		newDurationCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func newNarrateCommand(opts *options) *cobra.Command {
	var (
		output string
		voice  string
		rate   float64
	)
	cmd := &cobra.Command{
		Use:   "narrate [file]",
		Short: "Synthesize text from a file or stdin into one audio file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			logger := opts.logger(cmd.ErrOrStderr())

			synth, err := tts.New(cmd.Context(), cfg.TTS, logger)
			if err != nil {
				return fmt.Errorf("speech provider: %w", err)
			}
			res, err := tts.NewPipeline(synth, tts.PipelineConfigFrom(cfg.TTS), logger).Narrate(cmd.Context(), tts.NarrateRequest{
				Text:         text,
				Voice:        voice,
				SpeakingRate: rate,
				OutputPath:   output,
			})
			if err != nil {
				if errors.Is(err, tts.ErrNoAudio) && len(res.Dropped) > 0 {
					return fmt.Errorf("%w: all %d chunks failed", err, len(res.Dropped))
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chunks\t%d dropped\n", res.Path, res.Duration, res.Chunks, len(res.Dropped))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "out", "o", "", "Output audio path (defaults to the configured output dir)")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice override")
	cmd.Flags().Float64Var(&rate, "rate", 0, "Speaking rate override")
	return cmd
}

func newCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [file]",
		Short: "Print text as it will be spoken",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), narration.Clean(text))
			return nil
		},
	}
}

func newChunksCommand(opts *options) *cobra.Command {
	var maxChars int
	cmd := &cobra.Command{
		Use:   "chunks [file]",
		Short: "Print the synthesis requests text would be split into",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxChars <= 0 {
				cfg, err := opts.config()
				if err != nil {
					return err
				}
				maxChars = cfg.TTS.MaxChars
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for c := range narration.Chunks(narration.Clean(text), maxChars) {
				fmt.Fprintf(out, "--- chunk %d (%d chars)\n%s\n", c.Index, len([]rune(c.Text)), c.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxChars, "max", 0, "Maximum characters per chunk (defaults to tts.max_chars)")
	return cmd
}

func newDurationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "duration <file>...",
		Short: "Print the playback duration of MP3 or WAV files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				d, err := audio.FileDuration(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", path, d)
			}
			return nil
		},
	}
}

// readInput reads the named file, or stdin when no file or "-" is given.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
