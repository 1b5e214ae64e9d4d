package migrate

import "embed"

// Files holds the schema migrations (sql/) and seed data (seeds/).
//
//go:embed sql/*.sql seeds/*.sql
var Files embed.FS
