package handlers

import (
	"github.com/bracketpi/bracketd/internal/config"
	"github.com/bracketpi/bracketd/internal/core"
	"github.com/bracketpi/bracketd/internal/db"
)

type Dependencies struct {
	Config *config.Config
	Conns  *db.Connections
	Core   *core.AppCore
}
