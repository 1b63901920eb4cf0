package parser

import (
	"fmt"
	"strings"
	"time"

	"logpipe/pkg/models"
)

// BIND-style resolver log line:
//
//	11-Apr-2019 15:50:01.123 client @0x7f5e4c1b2: 10.7.1.2#52312 (example.com): query: example.com IN A + (10.7.1.1)
const dnsTimeLayout = "02-Jan-2006 15:04:05"

type DNSParser struct{}

func NewDNSParser() *DNSParser {
	return &DNSParser{}
}

func (p *DNSParser) DocType() models.DocType {
	return models.DocTypeDNS
}

func (p *DNSParser) Parse(plaintext []byte) (models.Document, error) {
	record, err := models.UnmarshalLogRecord(plaintext)
	if err != nil {
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("payload is not a log record: %w", err))
	}
	if record.Name == "" || record.Log == "" {
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("log record missing name or log"))
	}

	ts, err := extractDNSTimestamp(record.Log)
	if err != nil {
		return models.Document{}, newParseError(p.DocType(), plaintext, err)
	}

	return models.Document{
		Type:      p.DocType(),
		Timestamp: ts,
		Fields: map[string]interface{}{
			"service":   record.Name,
			"log":       record.Log,
			"query":     strings.Contains(record.Log, "query:"),
			"update":    strings.Contains(record.Log, "ddns_update:"),
			"client_ip": extractClientIP(record.Log),
		},
	}, nil
}

func extractDNSTimestamp(line string) (time.Time, error) {
	chunks := strings.SplitN(line, " ", 3)
	if len(chunks) < 2 {
		return time.Time{}, fmt.Errorf("no timestamp in line")
	}
	// Drop the sub-second part; the index stores second precision.
	clock, _, _ := strings.Cut(chunks[1], ".")
	ts, err := time.Parse(dnsTimeLayout, chunks[0]+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", chunks[0]+" "+clock, err)
	}
	return ts, nil
}

// extractClientIP pulls the querying client's address out of a client
// line. Non-client lines (zone transfers, notifies) yield an empty ip.
func extractClientIP(line string) string {
	chunks := strings.Split(line, " ")
	if len(chunks) < 5 || chunks[2] != "client" {
		return ""
	}
	ip, _, _ := strings.Cut(chunks[4], "#")
	return ip
}
