package metadata

import (
	"fmt"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gorm/shardroute/rule"
)

var containsMatcher = sqlmock.QueryMatcherFunc(func(expected, actual string) error {
	if strings.Contains(actual, expected) {
		return nil
	}
	return fmt.Errorf("%q does not contain %q", actual, expected)
})

func TestGormDatabase(t *testing.T) {
	r, err := rule.New(&rule.Configuration{
		DataSources: []string{"ds_0", "ds_1"},
		Tables: []rule.TableConfiguration{
			{LogicTable: "t_order", ActualDataNodes: "ds_${0..1}.t_order_${0..1}", LogicIndex: "order_index"},
		},
	})
	require.NoError(t, err)

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(containsMatcher))
	require.NoError(t, err)
	defer sqlDB.Close()
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT DATABASE()").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("ds_0"))
		mock.ExpectQuery("SCHEMATA").WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}).AddRow("ds_0"))
	}
	mock.ExpectQuery("information_schema.tables").
		WithArgs(sqlmock.AnyArg(), "t_order_0", "BASE TABLE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("information_schema.statistics").
		WithArgs(sqlmock.AnyArg(), "t_order_0", "order_index").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("information_schema.statistics").
		WithArgs(sqlmock.AnyArg(), "t_order_0", "order_index_t_order_0").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	database := NewGormDatabase(rule.NewHolder(r), "logic_db", map[string]*gorm.DB{"ds_0": db})
	_, ok := database.Schema("other_db")
	require.False(t, ok)
	schema, ok := database.Schema("LOGIC_DB")
	require.True(t, ok)

	require.True(t, schema.HasTable("t_order"))
	// 分片表的索引名带有实际表后缀
	require.True(t, schema.HasIndex("t_order", "order_index"))
	// 未配置的表没有数据节点，不访问数据库
	require.False(t, schema.HasTable("t_user"))
	require.False(t, schema.ContainsIndex("user_index"))
}
