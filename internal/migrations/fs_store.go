package migrations

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/models"
)

const (
	stateFile  = "state.json"
	infoFile   = "info.json"
	typesFile  = "types.json"
	tableExt   = ".table"
	upSuffix   = "_up.sql"
	downSuffix = "_down.sql"
)

type migrationInfo struct {
	ID   string `json:"id"`
	From string `json:"from_name,omitempty"`

	// TableBases maps each table to the migration directory holding its
	// definition. Tables unchanged since an earlier migration are not copied.
	TableBases map[string]string `json:"table_bases"`

	Backends      []string                     `json:"backends"`
	TableRenames  map[string]string            `json:"table_renames,omitempty"`
	ColumnRenames map[string]map[string]string `json:"column_renames,omitempty"`
	Checksum      string                       `json:"checksum"`
	CreatedAt     time.Time                    `json:"created_at"`
}

type storeState struct {
	Latest string `json:"latest"`
}

// FsStore keeps one directory per migration under a root directory.
type FsStore struct {
	dir string
}

func NewFsStore(dir string) *FsStore {
	return &FsStore{dir: dir}
}

func (s *FsStore) Dir() string {
	return s.dir
}

func (s *FsStore) path(parts ...string) string {
	return filepath.Join(append([]string{s.dir}, parts...)...)
}

func (s *FsStore) Latest() (*Migration, error) {
	var st storeState
	if err := readJSON(s.path(stateFile), &st); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if st.Latest == "" {
		return nil, nil
	}
	return s.Get(st.Latest)
}

func (s *FsStore) SetLatest(name string) error {
	if name != "" {
		if _, err := os.Stat(s.path(name, infoFile)); err != nil {
			return fmt.Errorf("%w: %s", dberrors.ErrUnknownMigration, name)
		}
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}
	return writeJSON(s.path(stateFile), storeState{Latest: name})
}

func (s *FsStore) info(name string) (*migrationInfo, error) {
	var info migrationInfo
	if err := readJSON(s.path(name, infoFile), &info); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", dberrors.ErrUnknownMigration, name)
		}
		return nil, err
	}
	return &info, nil
}

func (s *FsStore) Get(name string) (*Migration, error) {
	info, err := s.info(name)
	if err != nil {
		return nil, err
	}

	schema := models.NewSnapshot()
	for table, base := range info.TableBases {
		var spec models.TableSpec
		if err := readJSON(s.path(base, table+tableExt), &spec); err != nil {
			return nil, fmt.Errorf("failed to load table %s of migration %s: %w", table, name, err)
		}
		schema.Tables[table] = &spec
	}
	if err := readJSON(s.path(name, typesFile), &schema.Types); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load types of migration %s: %w", name, err)
	}
	if schema.Types == nil {
		schema.Types = map[models.TypeKey]models.ColumnType{}
	}

	m := &Migration{
		Name:      name,
		ID:        info.ID,
		From:      info.From,
		Schema:    schema,
		Up:        map[string]string{},
		Down:      map[string]string{},
		Checksum:  info.Checksum,
		CreatedAt: info.CreatedAt,

		TableRenames:  info.TableRenames,
		ColumnRenames: info.ColumnRenames,
	}
	for _, backend := range info.Backends {
		up, err := os.ReadFile(s.path(name, backend+upSuffix))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s up SQL of migration %s: %w", backend, name, err)
		}
		down, err := os.ReadFile(s.path(name, backend+downSuffix))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s down SQL of migration %s: %w", backend, name, err)
		}
		m.Up[backend] = string(up)
		m.Down[backend] = string(down)
	}
	if err := m.VerifyChecksum(); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes m. Tables identical to the previous migration's are recorded
// by reference to the directory that already holds them.
func (s *FsStore) Save(m *Migration) error {
	dir := s.path(m.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create migration directory: %w", err)
	}

	var prev *Migration
	var prevInfo *migrationInfo
	if m.From != "" {
		var err error
		if prev, err = s.Get(m.From); err != nil {
			return err
		}
		if prevInfo, err = s.info(m.From); err != nil {
			return err
		}
	}

	// Drop table files left by an earlier save of the same migration.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tableExt) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}

	info := migrationInfo{
		ID:         m.ID,
		From:       m.From,
		TableBases: map[string]string{},
		Backends:   m.Backends(),
		Checksum:   m.Checksum,

		TableRenames:  m.TableRenames,
		ColumnRenames: m.ColumnRenames,
		CreatedAt:     m.CreatedAt,
	}
	for _, name := range m.Schema.TableNames() {
		table := m.Schema.Tables[name]
		if prev != nil {
			if old, ok := prev.Schema.Table(name); ok && old.Equal(table) {
				info.TableBases[name] = prevInfo.TableBases[name]
				continue
			}
		}
		if err := writeJSON(filepath.Join(dir, name+tableExt), table); err != nil {
			return err
		}
		info.TableBases[name] = m.Name
	}
	if err := writeJSON(filepath.Join(dir, typesFile), m.Schema.Types); err != nil {
		return err
	}
	for backend, up := range m.Up {
		if err := os.WriteFile(filepath.Join(dir, backend+upSuffix), []byte(up), 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, backend+downSuffix), []byte(m.Down[backend]), 0o644); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(dir, infoFile), info)
}

func (s *FsStore) Delete(name string) error {
	if _, err := s.info(name); err != nil {
		return err
	}
	if err := os.RemoveAll(s.path(name)); err != nil {
		return fmt.Errorf("failed to remove migration %s: %w", name, err)
	}
	var st storeState
	if err := readJSON(s.path(stateFile), &st); err == nil && st.Latest == name {
		return s.SetLatest("")
	}
	return nil
}

// Names lists the migration directories present, in no ledger order.
func (s *FsStore) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			if _, err := os.Stat(filepath.Join(s.dir, e.Name(), infoFile)); err == nil {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
