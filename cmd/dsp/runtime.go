package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kalambet/dsp/internal/api"
	"github.com/kalambet/dsp/internal/backend"
	"github.com/kalambet/dsp/internal/cache"
	"github.com/kalambet/dsp/internal/compiler"
	"github.com/kalambet/dsp/internal/config"
	"github.com/kalambet/dsp/internal/corpus"
	"github.com/kalambet/dsp/internal/primitives"
	"github.com/kalambet/dsp/internal/program"
	"github.com/kalambet/dsp/internal/provider/ollama"
	"github.com/kalambet/dsp/internal/provider/openai"
	"github.com/kalambet/dsp/internal/stages"
)

// runtime wires the configured provider, cache, and corpus together for
// one command invocation.
type runtime struct {
	cfg        config.Config
	lm         backend.LM
	vectorizer backend.Vectorizer
	cache      *cache.Cache
	cacheStore *cache.Store
	store      *corpus.Store
	retriever  *corpus.Retriever
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	initLogging(cfg)

	var lm backend.LM
	var vec backend.Vectorizer
	switch cfg.Provider.Backend {
	case "openai":
		client := openai.New(openai.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			EmbedModel: cfg.OpenAI.EmbedModel,
		})
		lm = client.LM()
		vec = client.Vectorizer()
	default:
		client := ollama.New(cfg.Ollama.BaseURL)
		if err := ensureOllamaReady(ctx, client, cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.EmbedModel); err != nil {
			return nil, err
		}
		lm = ollama.NewLM(client, cfg.Ollama.Model)
		vec = ollama.NewVectorizer(client, cfg.Ollama.EmbedModel)
	}

	cacheStore, err := cache.OpenStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}
	lmCache, err := cache.NewPersistent(cacheStore)
	if err != nil {
		cacheStore.Close()
		return nil, fmt.Errorf("loading cache: %w", err)
	}

	store, err := corpus.Open(cfg.Storage.DataDir)
	if err != nil {
		cacheStore.Close()
		return nil, fmt.Errorf("opening corpus: %w", err)
	}

	return &runtime{
		cfg:        cfg,
		lm:         lm,
		vectorizer: vec,
		cache:      lmCache,
		cacheStore: cacheStore,
		store:      store,
		retriever:  corpus.NewRetriever(vec, store),
	}, nil
}

func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing corpus: %v\n", err)
		}
	}
	if rt.cacheStore != nil {
		if err := rt.cacheStore.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing cache: %v\n", err)
		}
	}
}

func initLogging(cfg config.Config) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func ensureOllamaReady(ctx context.Context, client *ollama.Client, baseURL string, models ...string) error {
	if !client.IsRunning(ctx) {
		return fmt.Errorf("ollama is not running at %s (start it with `ollama serve`)", baseURL)
	}
	for _, m := range models {
		if !client.HasModel(ctx, m) {
			return fmt.Errorf("model %q is not available locally (run `ollama pull %s`)", m, m)
		}
	}
	return nil
}

const qaInstructions = "Answer questions with short factoid answers."

func qaTemplate() stages.Template {
	return stages.Template{
		Instructions: qaInstructions,
		Inputs:       []stages.Field{{Name: "question", Prefix: "Question:"}},
		Outputs:      []stages.Field{{Name: "answer", Prefix: "Answer:"}},
	}
}

// questionSchema admits a bare question; the answer arrives later as a
// generated field.
func questionSchema() primitives.Schema {
	return primitives.Schema{
		Required: []string{"question"},
		Optional: []string{"answer"},
	}
}

// trainSchema requires the gold answer alongside the question.
func trainSchema() primitives.Schema {
	return primitives.Schema{
		Required: []string{"question", "answer"},
	}
}

// buildProgram assembles the QA pipeline. demo may be nil for a
// zero-shot pipeline without demonstrations.
func (rt *runtime) buildProgram(demo *stages.Demonstrate) *program.Program {
	retry := backend.RetryPolicy{Attempts: 2, Backoff: 500 * time.Millisecond}

	var steps []program.Step
	if demo != nil {
		steps = append(steps, &program.DemonstrateStep{Stage: demo})
	}
	steps = append(steps,
		&program.SearchStep{Stage: &stages.Search{
			RM:    rt.retriever,
			K:     rt.cfg.Predict.TopK,
			Retry: retry,
			Cache: rt.cache,
		}},
		&program.PredictStep{Stage: &stages.Predict{
			LM:          rt.lm,
			Template:    qaTemplate(),
			N:           rt.cfg.Predict.N,
			Temperature: rt.cfg.Predict.Temperature,
			MaxTokens:   rt.cfg.Predict.MaxTokens,
			Aggregate:   rt.cfg.Predict.N > 1,
			Retry:       retry,
			Cache:       rt.cache,
		}},
	)
	return program.New("qa", steps...)
}

// asker adapts a program to the api.Runner interface.
type asker struct {
	prog *program.Program
}

func (a *asker) Ask(ctx context.Context, question string) (api.AskResponse, error) {
	input, err := primitives.NewExample(questionSchema(), map[string]any{"question": question})
	if err != nil {
		return api.AskResponse{}, err
	}
	st, err := a.prog.Run(ctx, input)
	if err != nil {
		return api.AskResponse{}, err
	}
	return api.AskResponse{
		Answer:   st.Output.Field("answer"),
		Passages: st.Passages,
	}, nil
}

// trainExamples converts labeled pairs into schema-validated Examples.
func trainExamples(rows []api.TrainExample) ([]primitives.Example, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("training set is empty")
	}
	examples := make([]primitives.Example, len(rows))
	for i, row := range rows {
		if strings.TrimSpace(row.Question) == "" || strings.TrimSpace(row.Answer) == "" {
			return nil, fmt.Errorf("training example %d: question and answer are required", i)
		}
		ex, err := primitives.NewExample(trainSchema(), map[string]any{
			"question": row.Question,
			"answer":   row.Answer,
		})
		if err != nil {
			return nil, fmt.Errorf("training example %d: %w", i, err)
		}
		examples[i] = ex
	}
	return examples, nil
}

// loadTrainset reads a JSON array of {question, answer} objects.
func loadTrainset(path string) ([]primitives.Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading training set: %w", err)
	}

	var rows []api.TrainExample
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing training set %s: %w", path, err)
	}
	examples, err := trainExamples(rows)
	if err != nil {
		return nil, fmt.Errorf("training set %s: %w", path, err)
	}
	return examples, nil
}

// compileService implements api.Compiler over the runtime.
type compileService struct {
	rt   *runtime
	seed int64
}

func (s *compileService) Compile(ctx context.Context, trainset []api.TrainExample, k int) (*compiler.Compiled, error) {
	if k <= 0 {
		k = s.rt.cfg.Compile.K
	}
	examples, err := trainExamples(trainset)
	if err != nil {
		return nil, err
	}

	teacher := s.rt.buildProgram(&stages.Demonstrate{
		Method:     stages.MethodRandom,
		Pool:       examples,
		K:          k,
		Seed:       s.seed,
		AllowFewer: true,
	})
	comp := compiler.New(compiler.Options{
		K:           k,
		MaxAttempts: s.rt.cfg.Compile.MaxAttempts,
		MinDemos:    s.rt.cfg.Compile.MinDemos,
		Parallelism: s.rt.cfg.Compile.Parallelism,
	})
	return comp.Compile(ctx, teacher, examples)
}

// loadCompiled reads a compiled program description from disk.
func loadCompiled(path string) (*compiler.Compiled, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading compiled program: %w", err)
	}
	var c compiler.Compiled
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing compiled program %s: %w", path, err)
	}
	return &c, nil
}

// frozenStage turns compiled demonstrations into a Demonstrate stage.
func frozenStage(c *compiler.Compiled) *stages.Demonstrate {
	return &stages.Demonstrate{
		Method: stages.MethodFrozen,
		K:      len(c.Demos),
		Frozen: c.Demos,
	}
}
