// Package observability provides OpenTelemetry metrics exported in Prometheus format.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrAdapter = "adapter"
	attrResult  = "result"
	attrSuccess = "success"
	attrVenue   = "venue"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

// statusAttr groups HTTP codes (2xx, 4xx, 5xx) to bound cardinality.
func statusAttr(code int) attribute.KeyValue {
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func adapterAttr(adapter string) attribute.KeyValue {
	return attribute.String(attrAdapter, adapter)
}

// resultAttr is the terminal job status, or a poll outcome.
func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, strings.ToLower(result))
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func venueAttr(venue string) attribute.KeyValue {
	return attribute.String(attrVenue, venue)
}

// normalizePath replaces IDs and hashes in known routes with placeholders.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/jobs/"):
		if strings.HasSuffix(path, "/cancel") {
			return "/v1/jobs/{jobId}/cancel"
		}
		return "/v1/jobs/{jobId}"
	case strings.HasPrefix(path, "/v1/operations/"):
		return "/v1/operations/{hash}"
	}
	return path
}
