package exporter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"logpipe/internal/logger"
	"logpipe/pkg/logging"
	"logpipe/pkg/scheduler"
)

// defaultPollInterval is how often a quiet file is re-read for new lines.
const defaultPollInterval = time.Second

type publishFunc func(ctx context.Context, source, log string) error

// Follower tails one log file from its current end and publishes each
// record as it completes. Indented lines (tracebacks, wrapped messages)
// are continuations of the record before them; a record is flushed when
// the next record starts or the file goes quiet.
type Follower struct {
	name     string
	path     string
	interval time.Duration
	publish  publishFunc
	logger   logger.Logger
}

func NewFollower(name, path string, interval time.Duration, publish publishFunc, log logger.Logger) *Follower {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Follower{
		name:     name,
		path:     path,
		interval: interval,
		publish:  publish,
		logger:   log,
	}
}

func continuation(line string) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

// Run follows the file until ctx is canceled, the file disappears, or a
// read fails. Historical content is skipped; only lines appended after
// the follower starts are published.
func (f *Follower) Run(ctx context.Context) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("failed to open source %s: %w", f.name, err)
	}
	defer func() { _ = file.Close() }()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek source %s: %w", f.name, err)
	}

	runCtx := logging.WithSource(ctx, f.name)
	f.logger.InfowCtx(runCtx, "Following source", "path", f.path, "offset", offset)

	reader := bufio.NewReader(file)
	var partial strings.Builder
	var pending []string

	for {
		line, err := reader.ReadString('\n')
		offset += int64(len(line))

		if err == nil {
			full := strings.TrimRight(line, "\r\n")
			if partial.Len() > 0 {
				full = partial.String() + full
				partial.Reset()
			}
			switch {
			case full == "":
			case continuation(full) && len(pending) > 0:
				pending = append(pending, full)
			default:
				pending = f.flush(runCtx, pending)
				pending = append(pending, full)
			}
			continue
		}

		// A line without a trailing newline is still being written;
		// stash it and retry once the writer finishes it.
		if len(line) > 0 {
			partial.WriteString(line)
		}
		if !errors.Is(err, io.EOF) {
			f.flush(runCtx, pending)
			return fmt.Errorf("failed to read source %s: %w", f.name, err)
		}

		pending = f.flush(runCtx, pending)

		info, statErr := os.Stat(f.path)
		switch {
		case statErr != nil:
			f.logger.InfowCtx(runCtx, "Source disappeared, stopping follower")
			return nil
		case info.Size() < offset:
			_ = file.Close()
			file, err = os.Open(f.path)
			if err != nil {
				return fmt.Errorf("failed to reopen source %s: %w", f.name, err)
			}
			offset = 0
			reader.Reset(file)
			partial.Reset()
			f.logger.InfowCtx(runCtx, "Source truncated, restarting from the top")
		}

		if err := scheduler.Sleep(ctx, f.interval); err != nil {
			return nil
		}
	}
}

// flush publishes the pending record, if any. Publish has already run its
// retry budget by the time it fails, so the record is dropped here rather
// than stalling the whole source.
func (f *Follower) flush(ctx context.Context, pending []string) []string {
	if len(pending) == 0 {
		return pending
	}
	if err := f.publish(ctx, f.name, strings.Join(pending, "\n")); err != nil {
		f.logger.ErrorwCtx(ctx, "Dropping record after exhausted publish retries", "error", err)
	}
	return pending[:0]
}
