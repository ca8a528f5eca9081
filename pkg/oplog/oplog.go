// Package oplog records executed operations into vector collections and
// answers semantic search, usage statistics and command suggestion queries
// over them. Indexing is best-effort: callers invoke Record off the request
// path and drop its error after logging it.
package oplog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	errs "github.com/wentf9/xops-mcp/internal/errors"
	"github.com/wentf9/xops-mcp/pkg/embedding"
	"github.com/wentf9/xops-mcp/pkg/vector"
)

// Storage collection per logged facet of an execution. One execution writes
// up to three points, one per collection, sharing a job id.
const (
	CollectionCommands = "ssh_commands"
	CollectionStdout   = "ssh_stdout"
	CollectionStderr   = "ssh_stderr"
)

// maxEmbedChars caps text sent to the embedding model (~8k tokens).
const maxEmbedChars = 30000

// ErrNotConfigured is returned by the tool facade when history tools are
// called without a configured index.
var ErrNotConfigured = errors.New("history index not configured")

// payloadIndexes are created on every collection so queries can filter on
// these fields.
var payloadIndexes = map[string]vector.FieldType{
	"host":        vector.FieldKeyword,
	"user":        vector.FieldKeyword,
	"command":     vector.FieldKeyword,
	"job_id":      vector.FieldKeyword,
	"timestamp":   vector.FieldFloat,
	"return_code": vector.FieldInteger,
}

// Job describes one executed operation for indexing.
type Job struct {
	Host       string
	User       string
	Command    string
	Stdout     string
	Stderr     string
	ReturnCode int
}

// Index is the operation log. Safe for concurrent use.
type Index struct {
	store    vector.Store
	embedder embedding.Embedder

	mu      sync.Mutex
	ensured bool
}

// New creates an Index over the given store and embedder.
func New(store vector.Store, embedder embedding.Embedder) *Index {
	return &Index{store: store, embedder: embedder}
}

// ensureCollections lazily creates the three collections and their payload
// indexes. Retried on the next call if it fails.
func (ix *Index) ensureCollections(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.ensured {
		return nil
	}
	for _, name := range []string{CollectionCommands, CollectionStdout, CollectionStderr} {
		if err := ix.store.EnsureCollection(ctx, name, ix.embedder.Dimensions(), payloadIndexes); err != nil {
			return fmt.Errorf("ensure collection %s: %w", name, err)
		}
	}
	ix.ensured = true
	return nil
}

// Record indexes one executed operation. A single job id ties the command,
// stdout and stderr points together; stdout and stderr points are only
// written when non-empty.
func (ix *Index) Record(ctx context.Context, job Job) error {
	if err := ix.ensureCollections(ctx); err != nil {
		return errs.WrapIndexingError("record", err)
	}

	jobID := uuid.NewString()
	timestamp := epochSeconds(time.Now())

	base := func() map[string]any {
		return map[string]any{
			"job_id":      jobID,
			"host":        job.Host,
			"user":        job.User,
			"command":     job.Command,
			"timestamp":   timestamp,
			"return_code": job.ReturnCode,
		}
	}

	if err := ix.writePoint(ctx, CollectionCommands, "COMMAND: "+truncate(job.Command, maxEmbedChars), base()); err != nil {
		return errs.WrapIndexingError("record", err)
	}

	if job.Stdout != "" {
		stdout := truncate(job.Stdout, maxEmbedChars)
		payload := base()
		payload["stdout"] = stdout
		if err := ix.writePoint(ctx, CollectionStdout, "STDOUT: "+stdout, payload); err != nil {
			return errs.WrapIndexingError("record", err)
		}
	}

	if job.Stderr != "" {
		stderr := truncate(job.Stderr, maxEmbedChars)
		payload := base()
		payload["stderr"] = stderr
		if err := ix.writePoint(ctx, CollectionStderr, "ERROR: "+stderr, payload); err != nil {
			return errs.WrapIndexingError("record", err)
		}
	}

	log.Debug().
		Str("job_id", jobID).
		Str("host", job.Host).
		Str("command", job.Command).
		Msg("operation recorded")
	return nil
}

func (ix *Index) writePoint(ctx context.Context, collection, text string, payload map[string]any) error {
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed for %s: %w", collection, err)
	}
	return ix.store.Upsert(ctx, collection, vector.Point{
		ID:      uuid.NewString(),
		Vector:  vec,
		Payload: payload,
	})
}

// resolveCollection maps a tool-facing alias to its storage collection.
func resolveCollection(alias string) (string, error) {
	switch alias {
	case "", "commands":
		return CollectionCommands, nil
	case "stdout":
		return CollectionStdout, nil
	case "stderr":
		return CollectionStderr, nil
	}
	return "", fmt.Errorf("invalid collection %q: use 'commands', 'stdout' or 'stderr'", alias)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// truncate limits s to n characters, counting runes like the embedding
// service does rather than bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
