package parser

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"logpipe/pkg/models"
)

// Apache-style access log line, as produced by the API gateways:
//
//	10.200.217.90 - unset [08/Apr/2019:22:21:57 -0000] "GET /api/1/task/2b31? HTTP/1.1" 200 248 "None" "CLI 2019.03.28 rid=85c1c19d38e0485da38d4d0a9da2f43f"
//
// The user agent is overloaded with a transaction id (rid=...) that ties
// a CLI invocation to its API calls.
const webTimeLayout = "[02/Jan/2006:15:04:05"

type WebParser struct{}

func NewWebParser() *WebParser {
	return &WebParser{}
}

func (p *WebParser) DocType() models.DocType {
	return models.DocTypeWeb
}

func (p *WebParser) Parse(plaintext []byte) (models.Document, error) {
	record, err := models.UnmarshalLogRecord(plaintext)
	if err != nil {
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("payload is not a log record: %w", err))
	}
	if record.Name == "" || record.Log == "" {
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("log record missing name or log"))
	}

	// Every field the index schema knows about is present, explicitly
	// nil when the line does not carry it.
	fields := map[string]interface{}{
		"source":         record.Name,
		"log":            record.Log,
		"user":           nil,
		"client_ip":      nil,
		"method":         nil,
		"url":            nil,
		"status_code":    nil,
		"user_agent":     nil,
		"transaction_id": nil,
	}
	doc := models.Document{
		Type:   p.DocType(),
		Fields: fields,
	}

	tokens := strings.Fields(record.Log)
	if len(tokens) == 0 {
		return doc, nil
	}
	if _, err := netip.ParseAddr(tokens[0]); err != nil {
		// Tracebacks and other non-access lines are still indexed,
		// just without the structured attributes.
		return doc, nil
	}

	if len(tokens) < 9 {
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("access line has %d tokens, want at least 9", len(tokens)))
	}

	ts, err := time.Parse(webTimeLayout, tokens[3])
	if err != nil {
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("bad timestamp %q: %w", tokens[3], err))
	}
	doc.Timestamp = ts

	fields["client_ip"] = tokens[0]
	fields["user"] = tokens[2]
	fields["method"] = strings.ReplaceAll(tokens[5], `"`, "")
	fields["url"] = tokens[6]
	fields["status_code"] = tokens[8]

	byQuotes := strings.Split(record.Log, `"`)
	if len(byQuotes) < 6 {
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("access line missing quoted user agent"))
	}
	agent, txn, hasTxn := strings.Cut(byQuotes[5], "=")
	fields["user_agent"] = strings.TrimSpace(strings.Replace(agent, "rid", "", 1))
	if hasTxn {
		fields["transaction_id"] = txn
	}

	return doc, nil
}
