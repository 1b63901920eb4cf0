package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"logpipe/pkg/models"
)

// Task-queue worker log line:
//
//	[2019-04-11 15:51:10,530: WARNING/ForkPoolWorker-11] 2019-04-11 15:51:10,529 [7c7a53fa69a44201acf015f5964255b1] [e43ed12f-621e-41f7-8117-0f4c4c400602]: Config OneFS 8.0.0
//
// The request id (32 hex chars) spans a distributed transaction; the task
// id (uuid) is unique to one action. Lines without a task id are the
// queue framework's duplicate logging and are ignored outright.
var (
	requestIDPattern = regexp.MustCompile(`[0-9a-f]{32}`)
	taskIDPattern    = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

const workerTimeLayout = "2006-01-02 15:04:05"

type WorkerParser struct{}

func NewWorkerParser() *WorkerParser {
	return &WorkerParser{}
}

func (p *WorkerParser) DocType() models.DocType {
	return models.DocTypeWorker
}

func (p *WorkerParser) Parse(plaintext []byte) (models.Document, error) {
	record, err := models.UnmarshalLogRecord(plaintext)
	if err != nil {
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("payload is not a log record: %w", err))
	}
	if record.Name == "" || record.Log == "" {
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("log record missing name or log"))
	}

	taskID := singleMatch(taskIDPattern, record.Log)
	if taskID == "" {
		return models.Document{}, ErrIgnored
	}

	ts, err := extractWorkerTimestamp(record.Log)
	if err != nil {
		return models.Document{}, newParseError(p.DocType(), plaintext, err)
	}

	message := extractMessage(record.Log)
	normalized := strings.ToLower(strings.TrimSpace(message))

	return models.Document{
		Type:      p.DocType(),
		Timestamp: ts,
		Fields: map[string]interface{}{
			"service":    record.Name,
			"task_id":    taskID,
			"request_id": singleMatch(requestIDPattern, record.Log),
			"started":    normalized == "task starting",
			"completed":  normalized == "task complete",
			"message":    message,
		},
	}, nil
}

// singleMatch returns the match only when it is unambiguous.
func singleMatch(re *regexp.Regexp, s string) string {
	matches := re.FindAllString(s, 2)
	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

func extractMessage(line string) string {
	idx := strings.LastIndex(line, "]")
	msg := line
	if idx >= 0 {
		msg = line[idx+1:]
	}
	return strings.TrimSpace(strings.TrimPrefix(msg, ":"))
}

func extractWorkerTimestamp(line string) (time.Time, error) {
	chunks := strings.SplitN(line, " ", 3)
	if len(chunks) < 2 {
		return time.Time{}, fmt.Errorf("no timestamp in line")
	}
	date := strings.TrimPrefix(chunks[0], "[")
	clock, _, _ := strings.Cut(chunks[1], ",")
	ts, err := time.Parse(workerTimeLayout, date+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", date+" "+clock, err)
	}
	return ts, nil
}
