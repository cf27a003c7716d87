package store

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// openSQLite 使用纯Go的SQLite驱动打开数据库文件。pragma通过DSN传入，保证连接池中每个连接都生效。
func openSQLite(path string, readOnly bool, busyTimeout time.Duration) (*sql.DB, error) {
	pragmas := []string{fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds())}
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrapf(ErrStoreNotFound, "%s", path)
			}
			return nil, errors.Wrapf(err, "无法访问数据库文件%s", path)
		}
		pragmas = append(pragmas, "query_only(1)")
	} else {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, errors.Wrapf(err, "创建数据库目录%s失败", dir)
			}
		}
		pragmas = append(pragmas, "journal_mode(WAL)", "synchronous(FULL)")
	}

	query := url.Values{}
	for _, p := range pragmas {
		query.Add("_pragma", p)
	}

	db, err := sql.Open("sqlite", path+"?"+query.Encode())
	if err != nil {
		return nil, errors.Wrapf(err, "打开数据库%s失败", path)
	}
	if !readOnly {
		// 单写者
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, translate(context.Background(), err, fmt.Sprintf("连接数据库%s失败", path))
	}
	return db, nil
}

func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// translate 为错误加上操作描述。锁等待超时与上下文超时统一归为ErrStoreBusy。
func translate(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if isBusy(err) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return errors.Wrapf(ErrStoreBusy, "%s：%v", op, err)
	}
	return errors.Wrap(err, op)
}
