package migrations

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// trackingTable records the names of applied migration files.
const trackingTable = "schema_migrations"

// Migration is one embedded SQL file.
type Migration struct {
	Name string
	SQL  string
}

// Report lists the migrations a run applied and the ones already recorded.
type Report struct {
	Applied []string
	Skipped []string
}

func (r Report) String() string {
	if len(r.Applied) == 0 {
		return fmt.Sprintf("schema up to date (%d migrations)", len(r.Skipped))
	}
	return fmt.Sprintf("applied %s, %d already present", strings.Join(r.Applied, ", "), len(r.Skipped))
}

// load reads every non-empty .sql file under dir in lexical order.
func load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out = append(out, Migration{Name: name, SQL: string(data)})
	}
	return out, nil
}

// pending splits all into the migrations not yet in applied and a report
// pre-filled with the skipped names.
func pending(all []Migration, applied map[string]bool) ([]Migration, Report) {
	var (
		todo   []Migration
		report Report
	)
	for _, m := range all {
		if applied[m.Name] {
			report.Skipped = append(report.Skipped, m.Name)
			continue
		}
		todo = append(todo, m)
	}
	return todo, report
}
