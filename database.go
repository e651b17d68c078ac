package shardroute

import (
	"database/sql"

	"gorm.io/gorm"
)

// configurePool applies the pool limits of cfg, zero values keep the driver defaults
func configurePool(connPool gorm.ConnPool, cfg DialectorConfig) {
	db, ok := connPool.(*sql.DB)
	if !ok {
		return
	}
	if cfg.MaxOpen != 0 {
		db.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxIdleTime != 0 {
		db.SetConnMaxIdleTime(cfg.MaxIdleTime)
	}
	if cfg.MaxLifetime != 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}
}

// Stats pool statistics per physical data source
func (sr *ShardRoute) Stats() map[string]sql.DBStats {
	stats := make(map[string]sql.DBStats, len(sr.pools))
	for name, pool := range sr.pools {
		if db, ok := pool.(*sql.DB); ok {
			stats[name] = db.Stats()
		}
	}
	return stats
}
