// Package autoload initializes the global logger from LOG_* environment
// variables as a side effect of the import.
package autoload

import (
	configx "github.com/superbryn/callcore/pkg/config"
	logx "github.com/superbryn/callcore/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
