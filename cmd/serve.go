package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wentf9/xops-mcp/cmd/version"
	"github.com/wentf9/xops-mcp/internal/server"
	"github.com/wentf9/xops-mcp/pkg/access"
	"github.com/wentf9/xops-mcp/pkg/config"
	"github.com/wentf9/xops-mcp/pkg/embedding"
	"github.com/wentf9/xops-mcp/pkg/oplog"
	"github.com/wentf9/xops-mcp/pkg/vector"
)

const shutdownTimeout = 10 * time.Second

type ServeOptions struct {
	Transport string
	Addr      string
}

func NewServeOptions() *ServeOptions {
	return &ServeOptions{Transport: "stdio", Addr: ":3000"}
}

func NewCmdServe() *cobra.Command {
	o := NewServeOptions()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tool interface over stdio or HTTP",
		Long: `Serves the MCP tool interface until interrupted.

The stdio transport speaks to a single local client and never carries an
API key, so it only works against a registry without users. The http
transport reads the caller's API key from the Authorization header of
each request, either "Bearer <key>" or the bare key.

Operation history needs QDRANT_URL and MISTRAL_API_KEY; without them the
server still executes commands but records nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Validate(); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&o.Transport, "transport", o.Transport, "MCP transport: stdio or http")
	cmd.Flags().StringVar(&o.Addr, "addr", o.Addr, "listen address for the http transport")
	return cmd
}

func (o *ServeOptions) Validate() error {
	if o.Transport != "stdio" && o.Transport != "http" {
		return fmt.Errorf("invalid transport %q: use stdio or http", o.Transport)
	}
	return nil
}

func (o *ServeOptions) Run(ctx context.Context) error {
	reg, source, err := loadRegistry()
	if err != nil {
		return err
	}
	resolver := access.NewResolver(reg)
	log.Info().
		Str("source", source).
		Int("vms", len(reg.VMs)).
		Stringer("permissions", resolver.Mode()).
		Msg("registry loaded")

	srv := server.New(server.Config{
		Version:  version.Version,
		Resolver: resolver,
		Index:    newIndexFromEnv(),
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.Transport == "stdio" {
		log.Info().Msg("serving MCP over stdio")
		return srv.Run(ctx)
	}
	return o.serveHTTP(ctx, srv)
}

func (o *ServeOptions) serveHTTP(ctx context.Context, srv *server.Server) error {
	httpServer := &http.Server{
		Addr:              o.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", o.Addr).Msg("serving MCP over http")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// loadRegistry resolves the registry source from the --config flag and the
// environment, then loads and validates it.
func loadRegistry() (*config.Registry, string, error) {
	source, err := config.ResolveSource(cfgFile)
	if err != nil {
		return nil, "", err
	}
	reg, err := config.NewDefaultStore(source).Load()
	if err != nil {
		return nil, "", err
	}
	return reg, source, nil
}

// newIndexFromEnv wires the operation log when both backing services are
// configured. Missing configuration is a warning, not an error: commands
// still run, the history tools just report the index as not configured.
func newIndexFromEnv() *oplog.Index {
	qdrantURL := os.Getenv("QDRANT_URL")
	mistralKey := os.Getenv("MISTRAL_API_KEY")
	if qdrantURL == "" || mistralKey == "" {
		log.Warn().Msg("QDRANT_URL or MISTRAL_API_KEY not set; operation history disabled")
		return nil
	}
	store := vector.NewQdrantClient(qdrantURL, os.Getenv("QDRANT_API_KEY"))
	embedder := embedding.NewMistralClient(mistralKey, os.Getenv("MISTRAL_BASE_URL"))
	return oplog.New(store, embedder)
}

func init() {
	rootCmd.AddCommand(NewCmdServe())
}
