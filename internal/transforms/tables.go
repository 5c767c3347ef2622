// Package transforms implements the in-process handlers behind the
// transform types declared in the shipped manifests: table writers, file
// grabbers, and reference-data fetchers. Anything numerical stays in
// external tools.
package transforms

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
	"github.com/mckenziephagen/mindboggle/internal/registry"
)

// TablesModule registers the shape/volume table writers.
type TablesModule struct{}

// WriteColumnsInput is the input schema for the write_columns transform.
type WriteColumnsInput struct {
	Columns     []string `mb:"columns"`
	ColumnNames []string `mb:"column_names"`
	Delimiter   string   `mb:"delimiter"`
	OutputTable string   `mb:"output_table"`
}

// onWriteColumns writes one value column with a header row to a delimited
// table in the stage work directory.
func onWriteColumns(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
	in := input.(*WriteColumnsInput)
	logger := ctxlog.FromContext(ctx)

	if in.OutputTable == "" {
		return nil, fmt.Errorf("write_columns requires a non-empty output_table name")
	}
	outPath := filepath.Join(workdir, filepath.Base(in.OutputTable))

	f, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", outPath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if in.Delimiter != "" {
		w.Comma = rune(in.Delimiter[0])
	}
	if len(in.ColumnNames) > 0 {
		if err := w.Write(in.ColumnNames); err != nil {
			return nil, err
		}
	}
	for _, value := range in.Columns {
		if err := w.Write([]string{value}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write table %s: %w", outPath, err)
	}

	logger.Debug("Wrote table.", "path", outPath, "rows", len(in.Columns))
	return map[string]cty.Value{"output_table": cty.StringVal(outPath)}, nil
}

// ListStringsInput is the input schema for the list_strings transform.
type ListStringsInput struct {
	String1 string `mb:"string1"`
	String2 string `mb:"string2"`
	String3 string `mb:"string3"`
	String4 string `mb:"string4"`
}

// onListStrings merges up to four strings into a list, dropping empties.
// Used to assemble transform file lists whose members are optional.
func onListStrings(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
	in := input.(*ListStringsInput)

	var values []cty.Value
	for _, s := range []string{in.String1, in.String2, in.String3, in.String4} {
		if s != "" {
			values = append(values, cty.StringVal(s))
		}
	}
	if len(values) == 0 {
		return map[string]cty.Value{"string_list": cty.ListValEmpty(cty.String)}, nil
	}
	return map[string]cty.Value{"string_list": cty.ListVal(values)}, nil
}

// Register registers the module's handlers.
func (m *TablesModule) Register(r *registry.Registry) {
	r.RegisterHandler("WriteColumns", &registry.Handler{
		NewInput: func() any { return new(WriteColumnsInput) },
		Fn:       onWriteColumns,
	})
	r.RegisterHandler("ListStrings", &registry.Handler{
		NewInput: func() any { return new(ListStringsInput) },
		Fn:       onListStrings,
	})
}
