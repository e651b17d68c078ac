package shardroute

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gorm/shardroute/route"
)

type RouteModeKey string

const routeModeKey RouteModeKey = "shardroute:route_mode_key"

type routeModeLogger struct {
	logger.Interface
}

// Trace prefixes the SQL with the units it was routed to
func (l routeModeLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	var splitFn = func() (sql string, rowsAffected int64) {
		sql, rowsAffected = fc()
		if mode := ctx.Value(routeModeKey); mode != nil {
			sql = fmt.Sprintf("[%s] %s", mode, sql)
		}
		// 事务内或未经路由的语句保持原样
		return
	}
	l.Interface.Trace(ctx, begin, splitFn, err)
}

// LogMode keeps the wrapper when the level changes
func (l routeModeLogger) LogMode(level logger.LogLevel) logger.Interface {
	return routeModeLogger{Interface: l.Interface.LogMode(level)}
}

func NewRouteModeLogger(l logger.Interface) logger.Interface {
	if _, ok := l.(routeModeLogger); ok {
		return l
	}
	return routeModeLogger{
		Interface: l,
	}
}

func markStmtRouteMode(stmt *gorm.Statement, result *route.Result) {
	if _, ok := stmt.Logger.(routeModeLogger); ok && result != nil {
		stmt.Context = context.WithValue(stmt.Context, routeModeKey, result.String())
	}
}
