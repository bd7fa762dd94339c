package blocklist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultHTTPTimeout = 20 * time.Second

// Source is a shared block-list: a local file or an http(s) URL.
type Source struct {
	Location string
	Token    string
}

// ImportStats summarises an import.
type ImportStats struct {
	TotalLines int
	Added      int
	Existing   int
	Invalid    int
}

// Import merges the authors listed in source into the block-list. Each line
// holds a name and an optional mode code; names already blocked keep their
// current mode.
func (a *Authors) Import(ctx context.Context, source Source) (ImportStats, error) {
	data, err := readSource(ctx, source)
	if err != nil {
		return ImportStats{}, err
	}
	parsed, stats, err := parseAuthors(bytes.NewReader(data), source.Location, a.log)
	if err != nil {
		return stats, err
	}

	base := stats
	err = a.modify(ctx, func(entries []BlockedAuthor) ([]BlockedAuthor, bool, error) {
		stats = base
		set := NewAuthorSet(entries)
		for _, entry := range parsed {
			if _, ok := set.Match(entry.Name); ok {
				stats.Existing++
				continue
			}
			entries = append(entries, entry)
			set = NewAuthorSet(entries)
			stats.Added++
		}
		return entries, stats.Added > 0, nil
	})
	if err != nil {
		return base, err
	}
	a.log.Info("imported blocked authors", "source", source.Location, "added", stats.Added, "existing", stats.Existing, "invalid", stats.Invalid)
	return stats, nil
}

func parseAuthors(r io.Reader, sourceID string, log *slog.Logger) ([]BlockedAuthor, ImportStats, error) {
	stats := ImportStats{}
	var entries []BlockedAuthor

	scanner := bufio.NewScanner(r)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		stats.TotalLines++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || isCommentLine(line) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) > 2 {
			stats.Invalid++
			log.Warn("invalid block-list line", "source", sourceID, "line", lineNum, "entry", line)
			continue
		}
		entry := BlockedAuthor{Name: fields[0], Mode: Both}
		if len(fields) == 2 {
			mode, err := ParseMode(fields[1])
			if err != nil {
				stats.Invalid++
				log.Warn("invalid block-list line", "source", sourceID, "line", lineNum, "entry", line, "error", err)
				continue
			}
			entry.Mode = mode
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("scan block-list: %w", err)
	}
	return entries, stats, nil
}

func isCommentLine(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") || strings.HasPrefix(line, ";")
}

func readSource(ctx context.Context, source Source) ([]byte, error) {
	if isURL(source.Location) {
		return download(ctx, source)
	}
	data, err := os.ReadFile(source.Location) // #nosec G304 -- path provided by the operator.
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func download(ctx context.Context, source Source) ([]byte, error) {
	client := &http.Client{Timeout: defaultHTTPTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.Location, nil)
	if err != nil {
		return nil, err
	}
	if source.Token != "" {
		req.Header.Set("Authorization", "Bearer "+source.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Default().Warn("failed to close block-list response body", "error", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func isURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
