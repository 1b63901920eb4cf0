package exporter

import (
	"strings"

	"logpipe/internal/constants"
)

// TopicForSource routes a log source to its Kafka topic. Source names
// follow the container naming convention (project_service-style_replica,
// e.g. vlab_insightiq-api_1) but bare service names work too. Routing by
// log style keeps each parser's grammar to a single topic.
func TopicForSource(name string) string {
	group := name
	if parts := strings.Split(name, "_"); len(parts) >= 2 {
		group = parts[len(parts)-2]
	}
	style := group
	if _, suffix, found := strings.Cut(group, "-"); found {
		style = suffix
	}

	switch style {
	case "api":
		return constants.TopicWeb
	case "worker":
		return constants.TopicWorker
	case "dns":
		return constants.TopicDNS
	case "ntp":
		return constants.TopicNTP
	default:
		return constants.TopicOther
	}
}
