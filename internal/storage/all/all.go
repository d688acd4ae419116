// Package all wires every built-in storage backend into the storage registry.
//
// It exists purely for side effects: importing it runs the init functions of
// each backend, making these kinds available to storage.New:
//
//   - "memory"   (leadetl/internal/storage/memory)
//   - "sqlite"   (leadetl/internal/storage/sqlite)
//   - "postgres" (leadetl/internal/storage/postgres)
//   - "mysql"    (leadetl/internal/storage/mysql)
//   - "mssql"    (leadetl/internal/storage/mssql)
//
// A binary that needs only a subset can import those backends directly.
package all

import (
	_ "leadetl/internal/storage/memory"
	_ "leadetl/internal/storage/mssql"
	_ "leadetl/internal/storage/mysql"
	_ "leadetl/internal/storage/postgres"
	_ "leadetl/internal/storage/sqlite"
)
