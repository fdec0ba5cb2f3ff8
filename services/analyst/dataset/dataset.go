// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dataset loads tabular data into the analysis environment.
//
// Datasets enter the environment as Starlark lists of dicts, one dict
// per row, with column types inferred from the data. The schema summary
// is what the planner and synthesizer see; the rows themselves never
// leave the sandbox.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.starlark.net/starlark"

	"github.com/driftwood-ai/analyst/services/analyst/sandbox"
)

// ColumnType is the inferred type of a column.
type ColumnType string

const (
	// TypeInt marks columns whose every non-empty value parses as an
	// integer.
	TypeInt ColumnType = "int"

	// TypeFloat marks numeric columns with at least one non-integer.
	TypeFloat ColumnType = "float"

	// TypeBool marks columns of true/false values.
	TypeBool ColumnType = "bool"

	// TypeString is the fallback for everything else.
	TypeString ColumnType = "string"
)

// Column describes one column of a dataset.
type Column struct {
	// Name is the column header.
	Name string `json:"name"`

	// Type is the inferred column type.
	Type ColumnType `json:"type"`
}

// Dataset is one loaded table, ready to enter the environment.
type Dataset struct {
	// Name is the environment variable under which the rows are visible.
	Name string `json:"name"`

	// Rows is the row count.
	Rows int `json:"rows"`

	// Columns describes the schema in header order.
	Columns []Column `json:"columns"`

	// Value is the rows as a Starlark list of dicts.
	Value starlark.Value `json:"-"`
}

// Summary returns the schema description given to the planner and
// synthesizer. Row values are never included.
func (d *Dataset) Summary() string {
	cols := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		cols = append(cols, fmt.Sprintf("%s (%s)", c.Name, c.Type))
	}
	return fmt.Sprintf("%s: %d rows, %d columns. Columns: %s. Each row is a dict keyed by column name.",
		d.Name, d.Rows, len(d.Columns), strings.Join(cols, ", "))
}

// LoadCSV loads a CSV file as a dataset.
//
// Description:
//
//	The first record is the header. Column types are inferred from the
//	remaining records; empty cells are typed as None and do not affect
//	inference. The resulting Starlark value is frozen.
//
// Inputs:
//
//	name - The environment variable name for the dataset.
//	path - The CSV file path.
//
// Outputs:
//
//	*Dataset - The loaded dataset.
//	error - Non-nil on read or parse failure.
func LoadCSV(name, path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset %q: %w", name, err)
	}
	defer f.Close()

	ds, err := ReadCSV(name, f)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %q from %s: %w", name, path, err)
	}

	slog.Info("Dataset loaded",
		slog.String("name", name),
		slog.String("path", path),
		slog.Int("rows", ds.Rows),
		slog.Int("columns", len(ds.Columns)),
	)
	return ds, nil
}

// ReadCSV loads a dataset from a reader. See LoadCSV.
func ReadCSV(name string, r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty header")
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(records)+2, err)
		}
		records = append(records, record)
	}

	columns := inferColumns(header, records)

	rows := make([]any, 0, len(records))
	for _, record := range records {
		row := make(map[string]any, len(header))
		for i, col := range columns {
			row[col.Name] = parseCell(record[i], col.Type)
		}
		rows = append(rows, row)
	}

	value, err := sandbox.FromGo(rows)
	if err != nil {
		return nil, fmt.Errorf("converting rows: %w", err)
	}
	value.Freeze()

	return &Dataset{
		Name:    name,
		Rows:    len(records),
		Columns: columns,
		Value:   value,
	}, nil
}

// inferColumns determines each column's type from the data.
func inferColumns(header []string, records [][]string) []Column {
	columns := make([]Column, len(header))
	for i, h := range header {
		columns[i] = Column{Name: strings.TrimSpace(h), Type: inferType(records, i)}
	}
	return columns
}

// inferType picks the narrowest type every non-empty value satisfies.
func inferType(records [][]string, col int) ColumnType {
	sawValue := false
	isInt, isFloat, isBool := true, true, true

	for _, record := range records {
		if col >= len(record) {
			continue
		}
		cell := strings.TrimSpace(record[col])
		if cell == "" {
			continue
		}
		sawValue = true

		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			switch strings.ToLower(cell) {
			case "true", "false":
			default:
				isBool = false
			}
		}
	}

	if !sawValue {
		return TypeString
	}
	switch {
	case isBool:
		return TypeBool
	case isInt:
		return TypeInt
	case isFloat:
		return TypeFloat
	default:
		return TypeString
	}
}

// parseCell converts one cell to its typed Go value. Empty cells become
// nil regardless of column type.
func parseCell(cell string, t ColumnType) any {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}

	switch t {
	case TypeInt:
		v, _ := strconv.ParseInt(cell, 10, 64)
		return v
	case TypeFloat:
		v, _ := strconv.ParseFloat(cell, 64)
		return v
	case TypeBool:
		return strings.EqualFold(cell, "true")
	default:
		return cell
	}
}
