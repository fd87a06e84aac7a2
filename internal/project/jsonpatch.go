package project

import (
	"bytes"
	"fmt"
)

// topLevelEntry locates one key: value pair at the top level of a JSON
// object, tracking byte offsets into the original document so callers can
// splice in a replacement value without re-serializing (and thereby
// reordering or reformatting) anything else in the file.
type topLevelEntry struct {
	key              string
	keyStart, keyEnd int // span of the quoted key, including quotes
	valStart, valEnd int // span of the value, exclusive end
}

// scanTopLevel walks the top-level key/value pairs of a JSON object,
// ignoring nested structure and string contents. It assumes data is a
// well-formed JSON object (the caller's manifest file); malformed input
// returns an error rather than a best-effort partial scan, since a
// silently-wrong edit to a user's manifest is worse than refusing it.
func scanTopLevel(data []byte) ([]topLevelEntry, int, int, error) {
	i := 0
	n := len(data)

	skipSpace := func() {
		for i < n && (data[i] == ' ' || data[i] == '\t' || data[i] == '\n' || data[i] == '\r') {
			i++
		}
	}

	skipSpace()
	if i >= n || data[i] != '{' {
		return nil, 0, 0, fmt.Errorf("not a JSON object")
	}
	objStart := i
	i++

	var entries []topLevelEntry
	for {
		skipSpace()
		if i >= n {
			return nil, 0, 0, fmt.Errorf("unexpected end of input")
		}
		if data[i] == '}' {
			objEnd := i + 1
			return entries, objStart, objEnd, nil
		}
		if len(entries) > 0 {
			// expects a leading comma before the next entry, already
			// consumed by the previous iteration's trailing scan.
		}

		keyStart := i
		if data[i] != '"' {
			return nil, 0, 0, fmt.Errorf("expected string key at offset %d", i)
		}
		keyEnd, err := scanString(data, i)
		if err != nil {
			return nil, 0, 0, err
		}
		key := string(data[keyStart+1 : keyEnd-1])
		i = keyEnd

		skipSpace()
		if i >= n || data[i] != ':' {
			return nil, 0, 0, fmt.Errorf("expected ':' after key %q", key)
		}
		i++
		skipSpace()

		valStart := i
		valEnd, err := scanValue(data, i)
		if err != nil {
			return nil, 0, 0, err
		}
		i = valEnd

		entries = append(entries, topLevelEntry{key: key, keyStart: keyStart, keyEnd: keyEnd, valStart: valStart, valEnd: valEnd})

		skipSpace()
		if i < n && data[i] == ',' {
			i++
			continue
		}
		if i < n && data[i] == '}' {
			objEnd := i + 1
			return entries, objStart, objEnd, nil
		}
		return nil, 0, 0, fmt.Errorf("expected ',' or '}' after value for key %q", key)
	}
}

// scanString returns the index just past the closing quote of the string
// starting at data[start] (which must be '"').
func scanString(data []byte, start int) (int, error) {
	i := start + 1
	for i < len(data) {
		switch data[i] {
		case '\\':
			i += 2
			continue
		case '"':
			return i + 1, nil
		}
		i++
	}
	return 0, fmt.Errorf("unterminated string starting at offset %d", start)
}

// scanValue returns the index just past the JSON value starting at
// data[start], handling objects, arrays, strings, and bare literals
// (numbers/true/false/null).
func scanValue(data []byte, start int) (int, error) {
	if start >= len(data) {
		return 0, fmt.Errorf("unexpected end of input")
	}
	switch data[start] {
	case '"':
		return scanString(data, start)
	case '{', '[':
		open, close := byte('{'), byte('}')
		if data[start] == '[' {
			open, close = '[', ']'
		}
		depth := 0
		i := start
		inString := false
		for i < len(data) {
			c := data[i]
			if inString {
				if c == '\\' {
					i += 2
					continue
				}
				if c == '"' {
					inString = false
				}
				i++
				continue
			}
			switch c {
			case '"':
				inString = true
			case open:
				depth++
			case close:
				depth--
				if depth == 0 {
					return i + 1, nil
				}
			}
			i++
		}
		return 0, fmt.Errorf("unterminated value starting at offset %d", start)
	default:
		i := start
		for i < len(data) && data[i] != ',' && data[i] != '}' && data[i] != ']' &&
			data[i] != ' ' && data[i] != '\t' && data[i] != '\n' && data[i] != '\r' {
			i++
		}
		if i == start {
			return 0, fmt.Errorf("invalid value at offset %d", start)
		}
		return i, nil
	}
}

// setTopLevelKey returns a copy of data with key's value replaced by
// newValue (a serialized JSON value, no surrounding whitespace) if key
// already exists, or key inserted as a new first entry if it does not.
// All bytes outside the affected key/value are preserved exactly,
// including whitespace and key ordering elsewhere in the document.
func setTopLevelKey(data []byte, key string, newValue []byte) ([]byte, error) {
	entries, objStart, objEnd, err := scanTopLevel(data)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.key != key {
			continue
		}
		var out bytes.Buffer
		out.Write(data[:e.valStart])
		out.Write(newValue)
		out.Write(data[e.valEnd:])
		return out.Bytes(), nil
	}

	// Insert as a new entry immediately after the opening brace,
	// matching the indentation of the first existing entry when one
	// exists, else falling back to two-space indent.
	indent := "  "
	if len(entries) > 0 {
		indent = leadingWhitespace(data, entries[0].keyStart, objStart+1)
	}
	newline := "\n"
	if len(entries) == 0 {
		// empty object {}: insert on the same line.
		var out bytes.Buffer
		out.Write(data[:objStart+1])
		out.WriteString(indent)
		fmt.Fprintf(&out, "%q: ", key)
		out.Write(newValue)
		out.Write(data[objEnd-1:])
		return out.Bytes(), nil
	}

	var out bytes.Buffer
	out.Write(data[:objStart+1])
	out.WriteString(newline)
	out.WriteString(indent)
	fmt.Fprintf(&out, "%q: ", key)
	out.Write(newValue)
	out.WriteString(",")
	out.Write(data[objStart+1:])
	return out.Bytes(), nil
}

// leadingWhitespace returns the whitespace between lineStart and
// entryStart, used to mirror an existing entry's indentation.
func leadingWhitespace(data []byte, entryStart, lineStart int) string {
	i := entryStart
	for i > lineStart && (data[i-1] == ' ' || data[i-1] == '\t') {
		i--
	}
	return string(data[i:entryStart])
}
