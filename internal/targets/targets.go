// Package targets loads the list of pages to monitor from a spreadsheet,
// CSV, YAML or JSON file.
package targets

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"msgwatch/internal/domain"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned when a target file contains no rows.
var ErrEmpty = errors.New("target list is empty")

var (
	urlKeys      = []string{"url", "URL", "网址", "链接", "link", "Link"}
	typeNameKeys = []string{"typename", "type", "分类", "类别", "name", "名称"}
)

// DefaultFileNames are tried in order by DefaultPath.
var DefaultFileNames = []string{"list.xlsx", "监控列表.xlsx"}

// DefaultPath returns the first default target file that exists in dir, or
// the first default name when none does.
func DefaultPath(dir string) string {
	for _, name := range DefaultFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, DefaultFileNames[0])
}

// Load reads targets from path. The format is chosen by extension. sheet
// selects the worksheet of an .xlsx file; empty means the first sheet.
func Load(path, sheet string) ([]domain.MonitorTarget, error) {
	var (
		rows []map[string]any
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(path, sheet)
	case ".csv":
		rows, err = readCSV(path)
	case ".yaml", ".yml":
		rows, err = readDocument(path, yaml.Unmarshal)
	case ".json":
		rows, err = readDocument(path, json.Unmarshal)
	default:
		return nil, fmt.Errorf("unsupported target file %q (want .xlsx, .csv, .yaml or .json)", path)
	}
	if err != nil {
		return nil, fmt.Errorf("load targets from %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}

	out := make([]domain.MonitorTarget, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.MonitorTarget{
			TypeName: pickFirst(row, typeNameKeys),
			URL:      pickFirst(row, urlKeys),
		})
	}
	return out, nil
}

// Limit returns at most n targets. n <= 0 means no limit.
func Limit(ts []domain.MonitorTarget, n int) []domain.MonitorTarget {
	if n <= 0 || n >= len(ts) {
		return ts
	}
	return ts[:n]
}

func pickFirst(row map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return ""
}

func readXLSX(path, sheet string) ([]map[string]any, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if sheet == "" {
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	} else if !slices.Contains(sheets, sheet) {
		return nil, fmt.Errorf("sheet %q not found (have %s)", sheet, strings.Join(sheets, ", "))
	}

	grid, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return tableRows(grid), nil
}

func readCSV(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	grid, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	return tableRows(grid), nil
}

// tableRows turns a header row plus data rows into maps. Blank rows are
// dropped; short rows leave the trailing columns unset.
func tableRows(grid [][]string) []map[string]any {
	if len(grid) == 0 {
		return nil
	}
	header := make([]string, len(grid[0]))
	for i, h := range grid[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []map[string]any
	for _, rec := range grid[1:] {
		row := make(map[string]any, len(header))
		blank := true
		for i, cell := range rec {
			if i >= len(header) || header[i] == "" {
				continue
			}
			row[header[i]] = cell
			if strings.TrimSpace(cell) != "" {
				blank = false
			}
		}
		if !blank {
			rows = append(rows, row)
		}
	}
	return rows
}

// readDocument accepts either a top-level list of rows or an object with a
// "targets" list.
func readDocument(path string, unmarshal func([]byte, any) error) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var list []map[string]any
	if err := unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc struct {
		Targets []map[string]any `json:"targets" yaml:"targets"`
	}
	if err := unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Targets, nil
}
