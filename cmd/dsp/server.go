package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/dsp/internal/api"
	"github.com/kalambet/dsp/internal/stages"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and MCP servers (foreground)",
	Long: `Run the HTTP and MCP servers (foreground).

The HTTP API answers questions and searches the corpus; the MCP server
exposes the same pipeline as tools over stdio.

Example:
  dsp serve --compiled hotpot.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		compiledPath, _ := cmd.Flags().GetString("compiled")
		return runServer(cmd.Context(), compiledPath)
	},
}

func init() {
	serveCmd.Flags().String("compiled", "", "path to a compiled program whose demonstrations to use")
}

func runServer(ctx context.Context, compiledPath string) error {
	fmt.Fprintf(os.Stderr, "dsp version %s\n", version)

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Refuse to double-bind if a server already answers on the port.
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/healthz", rt.cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("dsp is already running on port %d", rt.cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", rt.cfg.Server.Port)
	}

	var demo *stages.Demonstrate
	if compiledPath != "" {
		compiled, err := loadCompiled(compiledPath)
		if err != nil {
			return err
		}
		demo = frozenStage(compiled)
		slog.Info("loaded compiled program",
			"program", compiled.ProgramName,
			"demos", len(compiled.Demos),
		)
	}

	prog := rt.buildProgram(demo)
	runner := &asker{prog: prog}

	handler := api.NewHandler(api.Deps{
		Runner:   runner,
		RM:       rt.retriever,
		Compiler: &compileService{rt: rt, seed: 42},
	})
	addr := fmt.Sprintf("127.0.0.1:%d", rt.cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Runner:      runner,
		RM:          rt.retriever,
		CorpusCount: rt.store.Count,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "dsp listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
