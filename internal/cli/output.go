package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatJSONL = "jsonl"
	formatYAML  = "yaml"
)

// resolveFormat folds --json/--jsonl into an explicit --output value.
func resolveFormat(output string) (string, error) {
	switch {
	case IsJSONLOutput():
		return formatJSONL, nil
	case IsJSONOutput():
		return formatJSON, nil
	}
	switch f := strings.ToLower(strings.TrimSpace(output)); f {
	case "", formatTable:
		return formatTable, nil
	case formatJSON, formatJSONL, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (table, json, jsonl, yaml)", output)
	}
}

// WriteOutput writes v as indented JSON, or one JSON line per element when
// --jsonl is set and v is a slice.
func WriteOutput(w io.Writer, v any) error {
	if IsJSONLOutput() {
		return writeJSONL(w, v)
	}
	return writeJSON(w, v)
}

func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSONL:
		return writeJSONL(w, v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return writeJSON(w, v)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONL(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return enc.Encode(v)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := enc.Encode(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}
