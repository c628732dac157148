package storage

import (
	"database/sql/driver"
	"strings"

	"modernc.org/sqlite"
)

// fold is registered as a SQL function lowercasing with Unicode rules, so
// keyword search agrees with the in-memory backend. SQLite's lower only
// folds ASCII.
func init() {
	if err := sqlite.RegisterDeterministicScalarFunction("fold", 1, fold); err != nil {
		panic(err)
	}
}

func fold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}
