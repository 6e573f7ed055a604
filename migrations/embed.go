package migrations

import "embed"

// Files contains the SQL migrations, applied in ascending filename order.
//
//go:embed *.sql
var Files embed.FS
