package internal

import (
	// database/sql drivers for the watermill sql publisher ("mysql", "postgres")
	// and the riverqueue job insert ("postgres").
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
