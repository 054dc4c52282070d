package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Policy decides how a batch interacts with an existing collection.
type Policy string

const (
	// PolicyReplace empties the collection before inserting the batch.
	PolicyReplace Policy = "replace"
	// PolicyAppend inserts every document without inspection.
	PolicyAppend Policy = "append"
	// PolicyMerge inserts only documents the resolver does not judge redundant.
	PolicyMerge Policy = "merge"
)

// ErrInvalidPolicy indicates an unknown policy name.
var ErrInvalidPolicy = errors.New("invalid ingest policy")

// ParsePolicy parses a case-insensitive policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyReplace, PolicyAppend, PolicyMerge:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q (want replace, append or merge)", ErrInvalidPolicy, s)
	}
}

func (p Policy) String() string { return string(p) }
