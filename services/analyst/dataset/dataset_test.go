// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

const salesCSV = `region,units,price,active
north,10,9.99,true
south,3,14.50,false
east,,7.25,true
`

func TestReadCSV_SchemaInference(t *testing.T) {
	ds, err := ReadCSV("sales", strings.NewReader(salesCSV))
	require.NoError(t, err)

	assert.Equal(t, "sales", ds.Name)
	assert.Equal(t, 3, ds.Rows)
	require.Len(t, ds.Columns, 4)

	assert.Equal(t, Column{Name: "region", Type: TypeString}, ds.Columns[0])
	assert.Equal(t, Column{Name: "units", Type: TypeInt}, ds.Columns[1])
	assert.Equal(t, Column{Name: "price", Type: TypeFloat}, ds.Columns[2])
	assert.Equal(t, Column{Name: "active", Type: TypeBool}, ds.Columns[3])
}

func TestReadCSV_RowsAsDicts(t *testing.T) {
	ds, err := ReadCSV("sales", strings.NewReader(salesCSV))
	require.NoError(t, err)

	rows, ok := ds.Value.(*starlark.List)
	require.True(t, ok)
	require.Equal(t, 3, rows.Len())

	first, ok := rows.Index(0).(*starlark.Dict)
	require.True(t, ok)

	region, found, err := first.Get(starlark.String("region"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, starlark.String("north"), region)

	units, _, err := first.Get(starlark.String("units"))
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(10), units)

	// Empty cells are None regardless of column type.
	third, ok := rows.Index(2).(*starlark.Dict)
	require.True(t, ok)
	missing, _, err := third.Get(starlark.String("units"))
	require.NoError(t, err)
	assert.Equal(t, starlark.None, missing)
}

func TestReadCSV_ValueIsFrozen(t *testing.T) {
	ds, err := ReadCSV("sales", strings.NewReader(salesCSV))
	require.NoError(t, err)

	rows := ds.Value.(*starlark.List)
	err = rows.Append(starlark.None)
	assert.Error(t, err, "frozen dataset must reject mutation")
}

func TestDataset_Summary(t *testing.T) {
	ds, err := ReadCSV("sales", strings.NewReader(salesCSV))
	require.NoError(t, err)

	summary := ds.Summary()
	assert.Contains(t, summary, "sales: 3 rows, 4 columns")
	assert.Contains(t, summary, "units (int)")
	assert.Contains(t, summary, "price (float)")
	// Schema only; row values never appear in prompt context.
	assert.NotContains(t, summary, "north")
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV("empty", strings.NewReader(""))
	assert.Error(t, err)

	_, err = ReadCSV("ragged", strings.NewReader("a,b\n1\n"))
	assert.Error(t, err)
}

func TestInferType_AllEmptyColumnIsString(t *testing.T) {
	csv := "a,b\n,1\n,2\n"
	ds, err := ReadCSV("t", strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, TypeString, ds.Columns[0].Type)
	assert.Equal(t, TypeInt, ds.Columns[1].Type)
}
