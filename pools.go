package shardroute

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// unitPool one rewritten statement and the pool it runs on
type unitPool struct {
	name string
	pool gorm.ConnPool
	sql  string
	vars []interface{}
}

// shardPool
//
//	@Description: 写操作路由到多个执行单元时，并发在各数据源上执行改写后的SQL
type shardPool struct {
	gorm.ConnPool
	units []unitPool
}

// ExecContext ignores query and args, every unit carries its own SQL
func (p *shardPool) ExecContext(ctx context.Context, _ string, _ ...interface{}) (sql.Result, error) {
	var (
		affected = atomic.NewInt64(0)
		g, gctx  = errgroup.WithContext(ctx)
	)
	for _, unit := range p.units {
		unit := unit
		g.Go(func() error {
			result, err := unit.pool.ExecContext(gctx, unit.sql, unit.vars...)
			if err != nil {
				return errors.Wrapf(err, "execute on %s", unit.name)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return errors.Wrapf(err, "rows affected on %s", unit.name)
			}
			affected.Add(rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return multiResult{rowsAffected: affected.Load()}, nil
}

func (p *shardPool) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errors.Wrapf(ErrCrossShardQuery, "%d units", len(p.units))
}

// multiResult rows affected summed over the units
type multiResult struct {
	rowsAffected int64
}

// LastInsertId has no meaning across data sources
func (r multiResult) LastInsertId() (int64, error) {
	return 0, nil
}

func (r multiResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// emptyPool a write that cannot match any row executes nowhere
type emptyPool struct {
	gorm.ConnPool
}

func (emptyPool) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return driver.RowsAffected(0), nil
}
