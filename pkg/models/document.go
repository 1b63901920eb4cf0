package models

import "time"

// DocType tags a parsed document with the grammar that produced it and
// routes it to the right index or measurement.
type DocType string

const (
	DocTypeWeb      DocType = "web"
	DocTypeWorker   DocType = "worker"
	DocTypeDNS      DocType = "dns"
	DocTypeFirewall DocType = "firewall"
)

// Document is the backend-agnostic structured form of a log record.
// Fields holds the key/value attributes written to the backend; every
// field the destination schema requires is present, explicitly nil when
// the input did not carry it. Tags only matter for InfluxDB, where they
// become indexed dimensions.
type Document struct {
	Type      DocType
	Timestamp time.Time
	Tags      map[string]string
	Fields    map[string]interface{}
}

// HasTimestamp reports whether the parser extracted a timestamp from the
// record itself. Sinks fall back to ingest time when it did not.
func (d Document) HasTimestamp() bool {
	return !d.Timestamp.IsZero()
}
