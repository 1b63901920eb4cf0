package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

// Kafka topics. ntp and other are reserved: the exporter routes to them
// but no consumer variant parses them yet.
const (
	TopicFirewall = "firewall"
	TopicWeb      = "web"
	TopicWorker   = "worker"
	TopicDNS      = "dns"
	TopicNTP      = "ntp"
	TopicOther    = "other"
)

const (
	// IndexPrefix is the daily rolling Elasticsearch index prefix;
	// the full name is logs-YYYY.MM.dd.
	IndexPrefix = "logs"

	DefaultElasticsearchPort = 9200
	DefaultInfluxDBPort      = 8086
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 5 * time.Second
)

const (
	DefaultExportInterval = 10 * time.Second
)
