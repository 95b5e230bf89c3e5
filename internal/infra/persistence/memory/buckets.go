package memory

import (
	"encoding/json"
	"fmt"
)

// Buckets lists the snapshot partitions written by durable backends, one row each.
var Buckets = []string{"items", "stocks", "conversions", "operations", "alerts", "recommendations", "rules"}

func (s *Snapshot) bucketTarget(bucket string) (any, bool) {
	switch bucket {
	case "items":
		return &s.Items, true
	case "stocks":
		return &s.Stocks, true
	case "conversions":
		return &s.Conversions, true
	case "operations":
		return &s.Operations, true
	case "alerts":
		return &s.Alerts, true
	case "recommendations":
		return &s.Recommendations, true
	case "rules":
		return &s.Rules, true
	}
	return nil, false
}

// EncodeBucket marshals one partition of the snapshot as JSON.
func (s Snapshot) EncodeBucket(bucket string) ([]byte, error) {
	target, ok := s.bucketTarget(bucket)
	if !ok {
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	return json.Marshal(target)
}

// DecodeBucket unmarshals payload into the named partition. Unknown buckets
// are ignored so databases holding retired buckets still load.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	target, ok := s.bucketTarget(bucket)
	if !ok || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
