package sql

import (
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// sqliteUnicodeDriver 注册了 ulower 函数的 sqlite3 驱动。
// SQLite 内置的 LOWER 只转换 ASCII 字母，搜索非 ASCII 文本时需要 ulower。
const sqliteUnicodeDriver = "sqlite3_unicode"

func init() {
	sql.Register(sqliteUnicodeDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("ulower", strings.ToLower, true)
		},
	})
	sqlx.BindDriver(sqliteUnicodeDriver, sqlx.DOLLAR)
}

// openDriver 返回实际打开连接使用的驱动名
func openDriver(driverName string) string {
	if driverName == DriverSQLite {
		return sqliteUnicodeDriver
	}
	return driverName
}

// lowerFunc 返回按 Unicode 规则转小写的 SQL 函数名
func lowerFunc(driverName string) string {
	if driverName == DriverSQLite {
		return "ulower"
	}
	return "LOWER"
}
