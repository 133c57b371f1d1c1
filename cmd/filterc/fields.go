package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/tracefilter/pkg/bytecode"
)

// parseFields turns PATH=VALUE pairs into event fields. Values that parse
// as integers (any Go base prefix) or floats become numbers. A value in
// double quotes, or anything else, is a string.
func parseFields(pairs []string) (bytecode.Fields, error) {
	fields := make(bytecode.Fields, len(pairs))
	for _, pair := range pairs {
		path, raw, ok := strings.Cut(pair, "=")
		path = strings.TrimSpace(path)
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid field %q: want PATH=VALUE", pair)
		}
		fields[path] = parseValue(raw)
	}
	return fields, nil
}

func parseValue(raw string) bytecode.Value {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		if s, err := strconv.Unquote(raw); err == nil {
			return bytecode.String(s)
		}
		return bytecode.String(raw[1 : len(raw)-1])
	}
	if i, err := strconv.ParseInt(raw, 0, 64); err == nil {
		return bytecode.Int(i)
	}
	if u, err := strconv.ParseUint(raw, 0, 64); err == nil {
		return bytecode.Int(int64(u))
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return bytecode.Float(f)
	}
	return bytecode.String(raw)
}
