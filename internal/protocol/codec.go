package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// EncodeTask serializes a Task into the JSON document passed to the worker.
func EncodeTask(t Task) ([]byte, error) {
	if t.Operation == "" {
		return nil, fmt.Errorf("task operation is empty")
	}

	doc := make(map[string]any, len(t.Params)+2)
	for k, v := range t.Params {
		doc[k] = v
	}
	doc[KeyMethod] = t.Operation
	if t.MaxResults != nil {
		doc[KeyNumberResults] = t.MaxResults
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	return b, nil
}

// Fingerprint returns the hex BLAKE3 digest of an encoded task. Identical
// tasks share a fingerprint; the dispatcher never deduplicates on it.
func Fingerprint(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
