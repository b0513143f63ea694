package drivers

import (
	"fmt"
	"sort"
	"strings"
)

var constructors = map[string]func() DatabaseDriver{
	"postgres": func() DatabaseDriver { return NewPostgreSQLDriver() },
	"mysql":    func() DatabaseDriver { return NewMySQLDriver() },
	"sqlite":   func() DatabaseDriver { return NewSQLiteDriver() },
}

var aliases = map[string]string{
	"postgresql": "postgres",
	"sqlite3":    "sqlite",
}

// NewDriver returns the driver registered under name or one of its aliases.
func NewDriver(name string) (DatabaseDriver, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	ctor, ok := constructors[key]
	if !ok {
		return nil, fmt.Errorf("unsupported driver type: %s", name)
	}
	return ctor(), nil
}

// Names lists the canonical driver names in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
