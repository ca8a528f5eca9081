package oplog

import (
	"context"
	"sort"
	"strings"
	"time"

	errs "github.com/wentf9/xops-mcp/internal/errors"
	"github.com/wentf9/xops-mcp/pkg/vector"
)

const (
	defaultSearchLimit  = 10
	defaultSuggestLimit = 5
	defaultStatsHours   = 24
	statsScanLimit      = 1000
	maxRecentErrors     = 10
	errorExcerptChars   = 200
)

// SearchOptions narrow a Search call. Zero values mean defaults: the
// commands collection, no host/user/time restriction, limit 10.
type SearchOptions struct {
	Collection string // "commands", "stdout" or "stderr"
	Host       string
	User       string
	TimeHours  int
	Limit      int
}

// SearchHit is one ranked result with its stored metadata.
type SearchHit struct {
	RelevanceScore float64 `json:"relevance_score"`
	Host           string  `json:"host"`
	User           string  `json:"user"`
	Command        string  `json:"command"`
	JobID          string  `json:"job_id"`
	Timestamp      float64 `json:"timestamp"`
	FormattedTime  string  `json:"formatted_time"`
	Stdout         string  `json:"stdout,omitempty"`
	Stderr         string  `json:"stderr,omitempty"`
	ReturnCode     *int    `json:"return_code"`
}

// SearchResult is the answer to one semantic search.
type SearchResult struct {
	Query      string      `json:"query"`
	Collection string      `json:"collection"`
	TotalFound int         `json:"total_found"`
	Results    []SearchHit `json:"results"`
}

// Search embeds the query and returns the most similar entries of the chosen
// collection, best first.
func (ix *Index) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	collection, err := resolveCollection(opts.Collection)
	if err != nil {
		return nil, errs.WrapIndexingError("search", err)
	}
	if err := ix.ensureCollections(ctx); err != nil {
		return nil, errs.WrapIndexingError("search", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	filter := &vector.Filter{Host: opts.Host, User: opts.User}
	if opts.TimeHours > 0 {
		filter.MinTimestamp = epochSeconds(time.Now().Add(-time.Duration(opts.TimeHours) * time.Hour))
	}

	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errs.WrapIndexingError("search", err)
	}
	hits, err := ix.store.Query(ctx, collection, vec, filter, limit)
	if err != nil {
		return nil, errs.WrapIndexingError("search", err)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	results := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		p := hit.Payload
		ts := payloadFloat(p, "timestamp")
		sh := SearchHit{
			RelevanceScore: hit.Score,
			Host:           payloadString(p, "host"),
			User:           payloadString(p, "user"),
			Command:        payloadString(p, "command"),
			JobID:          payloadString(p, "job_id"),
			Timestamp:      ts,
			FormattedTime:  formatTimestamp(ts),
			Stdout:         payloadString(p, "stdout"),
			Stderr:         payloadString(p, "stderr"),
		}
		if rc, ok := payloadInt(p, "return_code"); ok {
			sh.ReturnCode = &rc
		}
		results = append(results, sh)
	}

	return &SearchResult{
		Query:      query,
		Collection: collection,
		TotalFound: len(results),
		Results:    results,
	}, nil
}

// StatisticsOptions narrow a Statistics call. TimeHours defaults to 24.
type StatisticsOptions struct {
	TimeHours int
	Host      string
	User      string
}

// RecentError is one failing entry surfaced by Statistics.
type RecentError struct {
	Host      string `json:"host"`
	User      string `json:"user"`
	Command   string `json:"command"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Statistics aggregates command history over a time window.
type Statistics struct {
	TimePeriodHours    int            `json:"time_period_hours"`
	CommandsExecuted   int            `json:"commands_executed"`
	SuccessfulCommands int            `json:"successful_commands"`
	FailedCommands     int            `json:"failed_commands"`
	MostUsedHosts      map[string]int `json:"most_used_hosts"`
	MostCommonCommands map[string]int `json:"most_common_commands"`
	RecentErrors       []RecentError  `json:"recent_errors"`
}

// Statistics scans command entries in the window, splits them into
// success/failure by return code, tallies host and command-word frequency
// (top 10 each) and lists the most recent failures, newest first.
func (ix *Index) Statistics(ctx context.Context, opts StatisticsOptions) (*Statistics, error) {
	if err := ix.ensureCollections(ctx); err != nil {
		return nil, errs.WrapIndexingError("statistics", err)
	}

	hours := opts.TimeHours
	if hours <= 0 {
		hours = defaultStatsHours
	}
	filter := &vector.Filter{
		Host:         opts.Host,
		User:         opts.User,
		MinTimestamp: epochSeconds(time.Now().Add(-time.Duration(hours) * time.Hour)),
	}

	stats := &Statistics{
		TimePeriodHours:    hours,
		MostUsedHosts:      map[string]int{},
		MostCommonCommands: map[string]int{},
		RecentErrors:       []RecentError{},
	}

	commands, err := ix.store.Scroll(ctx, CollectionCommands, filter, statsScanLimit)
	if err != nil {
		return nil, errs.WrapIndexingError("statistics", err)
	}
	for _, p := range commands {
		stats.CommandsExecuted++
		if rc, ok := payloadInt(p.Payload, "return_code"); ok && rc == 0 {
			stats.SuccessfulCommands++
		} else {
			stats.FailedCommands++
		}
		if opts.Host == "" {
			host := payloadString(p.Payload, "host")
			if host == "" {
				host = "unknown"
			}
			stats.MostUsedHosts[host]++
		}
		if word := firstWord(payloadString(p.Payload, "command")); word != "" {
			stats.MostCommonCommands[word]++
		}
	}
	stats.MostUsedHosts = topN(stats.MostUsedHosts, 10)
	stats.MostCommonCommands = topN(stats.MostCommonCommands, 10)

	failures, err := ix.store.Scroll(ctx, CollectionStderr, filter, statsScanLimit)
	if err != nil {
		return nil, errs.WrapIndexingError("statistics", err)
	}
	sort.SliceStable(failures, func(i, j int) bool {
		return payloadFloat(failures[i].Payload, "timestamp") > payloadFloat(failures[j].Payload, "timestamp")
	})
	for _, p := range failures {
		if len(stats.RecentErrors) >= maxRecentErrors {
			break
		}
		stats.RecentErrors = append(stats.RecentErrors, RecentError{
			Host:      payloadString(p.Payload, "host"),
			User:      payloadString(p.Payload, "user"),
			Command:   payloadString(p.Payload, "command"),
			Error:     truncate(payloadString(p.Payload, "stderr"), errorExcerptChars),
			Timestamp: formatTimestamp(payloadFloat(p.Payload, "timestamp")),
		})
	}

	return stats, nil
}

// SuggestOptions narrow a Suggest call. Limit defaults to 5.
type SuggestOptions struct {
	Host  string
	Limit int
}

// Suggestion is one recommended command drawn from successful history.
type Suggestion struct {
	Command        string  `json:"command"`
	RelevanceScore float64 `json:"relevance_score"`
	Host           string  `json:"host"`
	User           string  `json:"user"`
	LastUsed       string  `json:"last_used"`
	SuccessRate    float64 `json:"success_rate"`
}

// SuggestResult is the answer to one Suggest call.
type SuggestResult struct {
	Context          string       `json:"context"`
	Host             string       `json:"host,omitempty"`
	TotalSuggestions int          `json:"total_suggestions"`
	Suggestions      []Suggestion `json:"suggestions"`
}

// Suggest searches successful command history for entries similar to the
// given goal, deduplicates by exact command text and reports each command's
// observed success rate. A command whose executions all failed can never be
// suggested: the similarity query itself excludes non-zero return codes.
func (ix *Index) Suggest(ctx context.Context, goal string, opts SuggestOptions) (*SuggestResult, error) {
	if err := ix.ensureCollections(ctx); err != nil {
		return nil, errs.WrapIndexingError("suggest", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSuggestLimit
	}

	query := goal
	if opts.Host != "" {
		query += " host:" + opts.Host
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errs.WrapIndexingError("suggest", err)
	}

	success := 0
	filter := &vector.Filter{Host: opts.Host, ReturnCode: &success}
	// Overfetch so deduplication still fills the requested limit.
	hits, err := ix.store.Query(ctx, CollectionCommands, vec, filter, limit*2)
	if err != nil {
		return nil, errs.WrapIndexingError("suggest", err)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	seen := map[string]bool{}
	suggestions := make([]Suggestion, 0, limit)
	for _, hit := range hits {
		if len(suggestions) >= limit {
			break
		}
		command := payloadString(hit.Payload, "command")
		if command == "" || seen[command] {
			continue
		}
		seen[command] = true
		suggestions = append(suggestions, Suggestion{
			Command:        command,
			RelevanceScore: hit.Score,
			Host:           payloadString(hit.Payload, "host"),
			User:           payloadString(hit.Payload, "user"),
			LastUsed:       formatTimestamp(payloadFloat(hit.Payload, "timestamp")),
		})
	}

	for i := range suggestions {
		rate, err := ix.successRate(ctx, suggestions[i].Command)
		if err != nil {
			return nil, errs.WrapIndexingError("suggest", err)
		}
		suggestions[i].SuccessRate = rate
	}

	return &SuggestResult{
		Context:          goal,
		Host:             opts.Host,
		TotalSuggestions: len(suggestions),
		Suggestions:      suggestions,
	}, nil
}

// successRate reports successful runs over total runs of the exact command
// text across all hosts.
func (ix *Index) successRate(ctx context.Context, command string) (float64, error) {
	total, err := ix.store.Count(ctx, CollectionCommands, &vector.Filter{Command: command})
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 1.0, nil
	}
	zero := 0
	ok, err := ix.store.Count(ctx, CollectionCommands, &vector.Filter{Command: command, ReturnCode: &zero})
	if err != nil {
		return 0, err
	}
	return float64(ok) / float64(total), nil
}

// topN keeps the n highest counts, breaking ties by name for determinism.
func topN(counts map[string]int, n int) map[string]int {
	if len(counts) <= n {
		return counts
	}
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	top := make(map[string]int, n)
	for _, e := range entries[:n] {
		top[e.name] = e.count
	}
	return top
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func formatTimestamp(ts float64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04:05")
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func payloadInt(p map[string]any, key string) (int, bool) {
	switch v := p[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
