// Package tlog implements the transaction log writer (C6, §4.6) and reader (C7, §4.7): the
// append-only text record format, fsync policy, auto-truncation, and streaming replay that
// make the tree's mutation history durable and reproducible. The writer's file-handling shape
// — bufio.Writer plus an explicit flush, tear the handle down on a write error — is grounded on
// the teacher's fs/transaction_log.go; the reader's bufio.Scanner-plus-per-line-decode shape
// is grounded on the same file's getLogsDetails, except that the reader stops and returns a
// DecodeError at the first bad record instead of skipping it.
package tlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/edgecfg/cfgtree"
)

// Action is the single-character transaction kind recorded per line (§3 Transaction Record).
type Action byte

const (
	ActionWriteLeaf           Action = 'L'
	ActionRemoveNode          Action = 'R'
	ActionInteriorTimestamp Action = 'I'
)

// Record is one line of the transaction log: (timestamp, path, action, value?) per §3.
type Record struct {
	Timestamp int64
	Action    Action
	Path      []string
	Value     cfgtree.Value
	HasValue  bool
}

// Encode renders r in the line format described in §4.6:
//
//	T <epoch-millis> <action> <json-encoded-path> [<json-encoded-value>]
func (r Record) Encode() (string, error) {
	pathJSON, err := json.Marshal(r.Path)
	if err != nil {
		return "", fmt.Errorf("encode path: %w", err)
	}
	line := "T " + strconv.FormatInt(r.Timestamp, 10) + " " + string(r.Action) + " " + string(pathJSON)
	if r.Action == ActionWriteLeaf {
		valJSON, err := json.Marshal(r.Value.Any())
		if err != nil {
			return "", fmt.Errorf("encode value: %w", err)
		}
		line += " " + string(valJSON)
	}
	return line, nil
}

// Decode parses one transaction log line. Malformed lines return a cfgtree DecodeError (§7).
func Decode(line []byte) (Record, error) {
	fields := bytes.SplitN(line, []byte(" "), 4)
	if len(fields) < 4 || string(fields[0]) != "T" {
		return Record{}, cfgtree.NewError(cfgtree.DecodeError, nil, fmt.Errorf("malformed tlog line: %q", line))
	}
	ts, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return Record{}, cfgtree.NewError(cfgtree.DecodeError, nil, fmt.Errorf("bad timestamp: %w", err))
	}
	if len(fields[2]) != 1 {
		return Record{}, cfgtree.NewError(cfgtree.DecodeError, nil, fmt.Errorf("bad action: %q", fields[2]))
	}
	action := Action(fields[2][0])

	// The remainder is one JSON value (the path array) optionally followed by a second JSON
	// value (the leaf value, for action L). A streaming decoder handles both without assuming
	// anything about whitespace or escaping inside path segment strings.
	dec := json.NewDecoder(bytes.NewReader(fields[3]))
	var path []string
	if err := dec.Decode(&path); err != nil {
		return Record{}, cfgtree.NewError(cfgtree.DecodeError, nil, fmt.Errorf("bad path: %w", err))
	}

	rec := Record{Timestamp: ts, Action: action, Path: path}
	if action == ActionWriteLeaf {
		var decoded any
		if err := dec.Decode(&decoded); err != nil {
			return Record{}, cfgtree.NewError(cfgtree.DecodeError, nil, fmt.Errorf("missing or bad value for leaf write at %v: %w", path, err))
		}
		rec.Value = cfgtree.FromAny(decoded)
		rec.HasValue = true
	}
	return rec, nil
}
