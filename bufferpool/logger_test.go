package bufferpool

import (
	"github.com/relational/dbcore/internal/dblog"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return dblog.Nop()
}
