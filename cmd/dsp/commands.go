package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/dsp/internal/cache"
	"github.com/kalambet/dsp/internal/compiler"
	"github.com/kalambet/dsp/internal/config"
	"github.com/kalambet/dsp/internal/corpus"
	"github.com/kalambet/dsp/internal/primitives"
	"github.com/kalambet/dsp/internal/stages"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question with the retrieval-augmented pipeline",
	Long: `Answer a question with the retrieval-augmented pipeline.

Examples:
  dsp ask "What is the capital of France?"
  dsp ask --compiled hotpot.json "Who wrote The Master and Margarita?"
  dsp ask --context "When was the Eiffel Tower built?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		compiledPath, _ := cmd.Flags().GetString("compiled")
		showContext, _ := cmd.Flags().GetBool("context")

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		var demo *stages.Demonstrate
		if compiledPath != "" {
			compiled, err := loadCompiled(compiledPath)
			if err != nil {
				return err
			}
			demo = frozenStage(compiled)
		}

		prog := rt.buildProgram(demo)
		input, err := primitives.NewExample(questionSchema(), map[string]any{"question": question})
		if err != nil {
			return err
		}

		st, err := prog.Run(cmd.Context(), input)
		if err != nil {
			return err
		}

		if showContext {
			for i, p := range st.Passages {
				printStep("[%d] %s", i+1, truncate(p, 200))
			}
		}
		fmt.Println(st.Output.Field("answer"))
		return nil
	},
}

func init() {
	askCmd.Flags().String("compiled", "", "path to a compiled program whose demonstrations to use")
	askCmd.Flags().Bool("context", false, "print the retrieved passages before the answer")
}

// --- compile ---

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Bootstrap demonstrations from a training set and freeze them",
	Long: `Bootstrap demonstrations from a training set and freeze them.

Runs the pipeline over labeled training examples, keeps the runs whose
answer matches the gold label, and writes the frozen demonstrations to a
compiled program file usable with "dsp ask --compiled".

Example:
  dsp compile --train train.json --out hotpot.json --k 4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		trainPath, _ := cmd.Flags().GetString("train")
		outPath, _ := cmd.Flags().GetString("out")
		k, _ := cmd.Flags().GetInt("k")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		parallelism, _ := cmd.Flags().GetInt("parallelism")
		seed, _ := cmd.Flags().GetInt64("seed")

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if k <= 0 {
			k = rt.cfg.Compile.K
		}
		if maxAttempts < 0 {
			maxAttempts = rt.cfg.Compile.MaxAttempts
		}
		if parallelism <= 0 {
			parallelism = rt.cfg.Compile.Parallelism
		}

		trainset, err := loadTrainset(trainPath)
		if err != nil {
			return err
		}
		printStep("Bootstrapping over %d training examples (k=%d)", len(trainset), k)

		teacher := rt.buildProgram(&stages.Demonstrate{
			Method:     stages.MethodRandom,
			Pool:       trainset,
			K:          k,
			Seed:       seed,
			AllowFewer: true,
		})

		comp := compiler.New(compiler.Options{
			K:           k,
			MaxAttempts: maxAttempts,
			MinDemos:    rt.cfg.Compile.MinDemos,
			Parallelism: parallelism,
		})
		compiled, err := comp.Compile(cmd.Context(), teacher, trainset)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(compiled, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding compiled program: %w", err)
		}
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return fmt.Errorf("writing compiled program: %w", err)
		}

		printSuccess("Froze %d demonstrations from %d attempts into %s",
			len(compiled.Demos), compiled.Attempts, outPath)
		return nil
	},
}

func init() {
	compileCmd.Flags().String("train", "", "path to the training set JSON (required)")
	compileCmd.Flags().String("out", "compiled.json", "output path for the compiled program")
	compileCmd.Flags().Int("k", 0, "target demonstration count (default from config)")
	compileCmd.Flags().Int("max-attempts", -1, "max teacher runs, 0 for the whole training set")
	compileCmd.Flags().Int("parallelism", 0, "concurrent teacher runs (default from config)")
	compileCmd.Flags().Int64("seed", 42, "seed for random demonstration selection")
	compileCmd.MarkFlagRequired("train")
}

// --- corpus ---

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the retrieval corpus",
}

var corpusIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest documents into the retrieval corpus",
	Long: `Ingest documents into the retrieval corpus.

Examples:
  dsp corpus ingest --text "Paris is the capital of France." --title geography
  dsp corpus ingest --file ./notes.md
  dsp corpus ingest --pdf ./paper.pdf
  dsp corpus ingest --url https://example.com/article`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		url, _ := cmd.Flags().GetString("url")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && file == "" && pdfPath == "" && url == "" {
			return fmt.Errorf("one of --text, --file, --pdf, or --url is required")
		}

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		ing := corpus.NewIngester(rt.store, rt.vectorizer, 0)

		var n int
		switch {
		case text != "":
			if title == "" {
				title = "text"
			}
			n, err = ing.IngestText(cmd.Context(), title, text, "cli")
		case file != "":
			data, readErr := os.ReadFile(file)
			if readErr != nil {
				return fmt.Errorf("reading file: %w", readErr)
			}
			if title == "" {
				title = file
			}
			n, err = ing.IngestText(cmd.Context(), title, string(data), file)
		case pdfPath != "":
			n, err = ing.IngestPDF(cmd.Context(), pdfPath)
		case url != "":
			n, err = ing.IngestURL(cmd.Context(), url)
		}
		if err != nil {
			return err
		}

		printSuccess("Stored %d passages", n)
		return nil
	},
}

var corpusCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the number of stored passages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := corpus.Open(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Count()
		if err != nil {
			return err
		}
		printStatus("Passages", "%d", n)
		return nil
	},
}

func init() {
	corpusIngestCmd.Flags().String("text", "", "text content to ingest")
	corpusIngestCmd.Flags().String("file", "", "text file to ingest")
	corpusIngestCmd.Flags().String("pdf", "", "PDF file to ingest")
	corpusIngestCmd.Flags().String("url", "", "URL to fetch and ingest")
	corpusIngestCmd.Flags().String("title", "", "title for the document")
	corpusCmd.AddCommand(corpusIngestCmd)
	corpusCmd.AddCommand(corpusCountCmd)
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the LM and retrieval cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all cached LM and retrieval results",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := cache.OpenStore(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := cache.NewPersistent(store)
		if err != nil {
			return err
		}
		n := c.Len()
		if err := c.Clear(); err != nil {
			return err
		}
		printSuccess("Cleared %d cache entries", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
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
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
