package discovery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrAllocationFailed indicates no valid free name could be produced. It
// should only occur when the peer set mutates between scan and validation;
// callers may re-invoke with a fresh scan but the allocator never retries
// internally.
var ErrAllocationFailed = errors.New("name allocation failed")

// DefaultNamePrefix is the output-name prefix used when the caller supplies
// none.
const DefaultNamePrefix = "VANB-Rx"

// AllocateName returns the first free `prefix-<n>` name, where n is the
// smallest positive integer not already claimed by an existing name. Names
// that do not carry the prefix, or whose suffix is not a positive integer,
// are ignored. NDI peers often advertise as `HOST (name)`, so the prefixed
// sequence may appear anywhere inside an existing name.
func AllocateName(prefix string, existing []string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultNamePrefix
	}

	taken := make(map[int]struct{})
	for _, name := range existing {
		if n, ok := sequenceNumber(prefix, name); ok {
			taken[n] = struct{}{}
		}
	}

	sequence := 1
	for {
		if _, ok := taken[sequence]; !ok {
			break
		}
		sequence++
	}

	candidate := fmt.Sprintf("%s-%d", prefix, sequence)
	if err := verifyCandidate(prefix, candidate, existing); err != nil {
		return "", err
	}
	return candidate, nil
}

// sequenceNumber extracts the positive integer following `prefix-` inside
// name, tolerating the `HOST (prefix-n)` advertisement form.
func sequenceNumber(prefix, name string) (int, bool) {
	marker := prefix + "-"
	idx := strings.Index(name, marker)
	if idx < 0 {
		return 0, false
	}
	suffix := name[idx+len(marker):]
	if end := strings.IndexByte(suffix, ')'); end >= 0 {
		suffix = suffix[:end]
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func verifyCandidate(prefix, candidate string, existing []string) error {
	if !strings.HasPrefix(candidate, prefix+"-") {
		return fmt.Errorf("%w: candidate %q missing prefix %q", ErrAllocationFailed, candidate, prefix)
	}
	n, err := strconv.Atoi(candidate[len(prefix)+1:])
	if err != nil || n <= 0 {
		return fmt.Errorf("%w: candidate %q has no positive sequence", ErrAllocationFailed, candidate)
	}
	for _, name := range existing {
		if name == candidate {
			return fmt.Errorf("%w: candidate %q already taken", ErrAllocationFailed, candidate)
		}
	}
	return nil
}
