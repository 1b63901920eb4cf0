package models

import "encoding/json"

// LogRecord is the plaintext unit produced by a monitored source and
// carried, encrypted, through Kafka. Name identifies the service that
// produced the line; Log is the raw line (or group of continuation lines).
type LogRecord struct {
	Name string `json:"name"`
	Log  string `json:"log"`
}

func (r LogRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func UnmarshalLogRecord(data []byte) (LogRecord, error) {
	var r LogRecord
	err := json.Unmarshal(data, &r)
	return r, err
}
