// Package all registers every storage backend.
package all

import (
	_ "ratewatch/internal/storage/mssql"
	_ "ratewatch/internal/storage/mysql"
	_ "ratewatch/internal/storage/postgres"
	_ "ratewatch/internal/storage/sqlite"
)
