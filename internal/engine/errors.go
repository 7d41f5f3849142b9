package engine

import "fmt"

// ConfigError marks a configuration-level problem. It aborts the whole
// evaluation at the start, so a misconfiguration surfaces once rather than
// once per affected row.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rule config invalid: %s: %s", e.Field, e.Reason)
}

// ItemError marks a single item that could not be priced. It is collected
// alongside successful rows, never aborting the rest of the evaluation.
type ItemError struct {
	Index  int
	ItemID string
	Field  string
	Reason string
}

func (e *ItemError) Error() string {
	id := e.ItemID
	if id == "" {
		id = fmt.Sprintf("#%d", e.Index)
	}
	return fmt.Sprintf("item %s: field %s: %s", id, e.Field, e.Reason)
}
