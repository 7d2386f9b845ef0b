package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/relational/dbcore/common"
)

// tomlFile is the on-disk shape of one database's catalog file (spec §6:
// "Catalog files: one per database, listing tables, columns, indexes,
// constraints, statistics"). It stays a flat, toml-friendly mirror of
// DatabaseDef/TableDef rather than embedding them directly so the wire
// format doesn't change shape if the in-memory types grow fields later.
type tomlFile struct {
	ID     string      `toml:"id"`
	Name   string      `toml:"name"`
	Tables []tomlTable `toml:"table"`
}

type tomlTable struct {
	ID          string            `toml:"id"`
	Name        string            `toml:"name"`
	Columns     []tomlColumn      `toml:"column"`
	Constraints []tomlConstraint  `toml:"constraint"`
	Indexes     []tomlIndex       `toml:"index"`
	RowCount    int64             `toml:"row_count"`
	ColumnStats []tomlColumnStats `toml:"column_stats"`
}

type tomlColumn struct {
	Name     string `toml:"name"`
	Type     int    `toml:"type"`
	Nullable bool   `toml:"nullable"`
}

type tomlConstraint struct {
	Name            string   `toml:"name"`
	Kind            int      `toml:"kind"`
	Columns         []string `toml:"columns"`
	RefTable        string   `toml:"ref_table,omitempty"`
	RefColumns      []string `toml:"ref_columns,omitempty"`
	OnDeleteCascade bool     `toml:"on_delete_cascade,omitempty"`
	OnUpdateCascade bool     `toml:"on_update_cascade,omitempty"`
	CheckExpr       string   `toml:"check_expr,omitempty"`
}

type tomlIndex struct {
	Name     string   `toml:"name"`
	Table    string   `toml:"table"`
	Columns  []string `toml:"columns"`
	Unique   bool     `toml:"unique"`
	FilePath string   `toml:"file_path"`
}

type tomlColumnStats struct {
	Column         string   `toml:"column"`
	DistinctValues int64    `toml:"distinct_values"`
	NullCount      int64    `toml:"null_count"`
	HistBounds     []string `toml:"hist_bounds,omitempty"`
	HistCounts     []int64  `toml:"hist_counts,omitempty"`
}

// Store persists DatabaseDefs as one TOML file per database under dir,
// atomically updated via write-temp-and-rename (spec §6).
type Store struct {
	dir string
}

// NewStore opens a catalog store rooted at dir, creating it if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("catalog: creating store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".toml")
}

// List returns every database name with a catalog file in the store, in
// alphabetical order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing store: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		names = append(names, e.Name()[:len(e.Name())-len(".toml")])
	}
	sort.Strings(names)
	return names, nil
}

// Load reads one database's catalog file.
func (s *Store) Load(name string) (*DatabaseDef, error) {
	var f tomlFile
	if _, err := toml.DecodeFile(s.path(name), &f); err != nil {
		return nil, fmt.Errorf("catalog: loading %q: %w", name, err)
	}
	return fromTOML(&f), nil
}

// Save writes db's catalog file atomically: encode to a temp file in the
// same directory, then rename over the final path (spec §6 "Atomically
// updated via write-temp-and-rename").
func (s *Store) Save(db *DatabaseDef) error {
	f := toTOML(db)

	tmp, err := os.CreateTemp(s.dir, "."+db.Name+"-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("catalog: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(f); err != nil {
		tmp.Close()
		return fmt.Errorf("catalog: encoding %q: %w", db.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("catalog: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("catalog: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(db.Name)); err != nil {
		return fmt.Errorf("catalog: renaming into place: %w", err)
	}
	return nil
}

// Drop removes a database's catalog file.
func (s *Store) Drop(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("catalog: dropping %q: %w", name, err)
	}
	return nil
}

func toTOML(db *DatabaseDef) *tomlFile {
	f := &tomlFile{ID: db.ID, Name: db.Name}
	names := make([]string, 0, len(db.Tables))
	for n := range db.Tables {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		t := db.Tables[n]
		tt := tomlTable{ID: t.ID, Name: t.Name, RowCount: t.Stats.RowCount}
		for _, c := range t.Columns {
			tt.Columns = append(tt.Columns, tomlColumn{Name: c.Name, Type: int(c.Type), Nullable: c.Nullable})
		}
		for _, c := range t.Constraints {
			tt.Constraints = append(tt.Constraints, tomlConstraint{
				Name: c.Name, Kind: int(c.Kind), Columns: c.Columns,
				RefTable: c.RefTable, RefColumns: c.RefColumns,
				OnDeleteCascade: c.OnDeleteCascade, OnUpdateCascade: c.OnUpdateCascade,
				CheckExpr: c.CheckExpr,
			})
		}
		for _, idx := range t.Indexes {
			tt.Indexes = append(tt.Indexes, tomlIndex{
				Name: idx.Name, Table: idx.Table, Columns: idx.Columns,
				Unique: idx.Unique, FilePath: idx.FilePath,
			})
		}
		colNames := make([]string, 0, len(t.Stats.ColumnStats))
		for cn := range t.Stats.ColumnStats {
			colNames = append(colNames, cn)
		}
		sort.Strings(colNames)
		for _, cn := range colNames {
			cs := t.Stats.ColumnStats[cn]
			entry := tomlColumnStats{Column: cn, DistinctValues: cs.DistinctValues, NullCount: cs.NullCount}
			if cs.Histogram != nil {
				entry.HistBounds = cs.Histogram.Bounds
				entry.HistCounts = cs.Histogram.Counts
			}
			tt.ColumnStats = append(tt.ColumnStats, entry)
		}
		f.Tables = append(f.Tables, tt)
	}
	return f
}

func fromTOML(f *tomlFile) *DatabaseDef {
	db := &DatabaseDef{ID: f.ID, Name: f.Name, Tables: make(map[string]*TableDef, len(f.Tables))}
	for _, tt := range f.Tables {
		t := &TableDef{ID: tt.ID, Name: tt.Name, Stats: TableStats{RowCount: tt.RowCount}}
		for _, c := range tt.Columns {
			t.Columns = append(t.Columns, Column{Name: c.Name, Type: common.ValueKind(c.Type), Nullable: c.Nullable})
		}
		for _, c := range tt.Constraints {
			t.Constraints = append(t.Constraints, Constraint{
				Name: c.Name, Kind: ConstraintKind(c.Kind), Columns: c.Columns,
				RefTable: c.RefTable, RefColumns: c.RefColumns,
				OnDeleteCascade: c.OnDeleteCascade, OnUpdateCascade: c.OnUpdateCascade,
				CheckExpr: c.CheckExpr,
			})
		}
		for _, idx := range tt.Indexes {
			t.Indexes = append(t.Indexes, IndexDef{
				Name: idx.Name, Table: idx.Table, Columns: idx.Columns,
				Unique: idx.Unique, FilePath: idx.FilePath,
			})
		}
		if len(tt.ColumnStats) > 0 {
			t.Stats.ColumnStats = make(map[string]ColumnStats, len(tt.ColumnStats))
			for _, cs := range tt.ColumnStats {
				entry := ColumnStats{DistinctValues: cs.DistinctValues, NullCount: cs.NullCount}
				if len(cs.HistBounds) > 0 {
					entry.Histogram = &Histogram{Bounds: cs.HistBounds, Counts: cs.HistCounts}
				}
				t.Stats.ColumnStats[cs.Column] = entry
			}
		}
		db.Tables[t.Name] = t
	}
	return db
}
