package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"SwarmQuarry/internal/swarm"
)

// DefaultSQLiteFile 是 sqlite 驱动的默认数据库文件。
const DefaultSQLiteFile = "quarry.db"

// SQLGateway 以每个 swarm 一行的方式保存快照，MySQL 与 SQLite 共用同一套逻辑。
type SQLGateway struct {
	db      *sql.DB
	dialect string

	mu sync.Mutex
	// written 记录上次成功写入的 payload，未变化的 swarm 不再重复写入。
	written map[string]string
}

// NewSQLiteGateway 打开（必要时创建）SQLite 数据库并执行迁移。
func NewSQLiteGateway(ctx context.Context, path string) (*SQLGateway, error) {
	if path == "" {
		path = DefaultSQLiteFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	// SQLite 只允许一个写者。
	db.SetMaxOpenConns(1)

	return newSQLGateway(ctx, db, DriverSQLite)
}

// NewMySQLGateway 连接 MySQL 并执行迁移。
func NewMySQLGateway(ctx context.Context, cfg Config) (*SQLGateway, error) {
	db, err := openMySQL(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newSQLGateway(ctx, db, DriverMySQL)
}

func newSQLGateway(ctx context.Context, db *sql.DB, dialect string) (*SQLGateway, error) {
	if err := runMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLGateway{db: db, dialect: dialect, written: make(map[string]string)}, nil
}

func openMySQL(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

// LoadAll 读取全部 swarm。
func (g *SQLGateway) LoadAll(ctx context.Context) (map[string]*swarm.Swarm, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT id, payload FROM swarms`)
	if err != nil {
		return nil, fmt.Errorf("查询 swarms 失败: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*swarm.Swarm)
	loaded := make(map[string]string)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("解析 swarms 行失败: %w", err)
		}
		decoded, err := decodeSwarm(id, []byte(payload))
		if err != nil {
			return nil, err
		}
		out[id] = decoded
		loaded[id] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 swarms 失败: %w", err)
	}

	g.mu.Lock()
	g.written = loaded
	g.mu.Unlock()
	return out, nil
}

// SaveAll 在一个事务内写入有变化的 swarm。
func (g *SQLGateway) SaveAll(ctx context.Context, swarms map[string]*swarm.Swarm) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	type row struct {
		id      string
		payload string
		s       *swarm.Swarm
	}
	var changed []row
	for id, s := range swarms {
		if s == nil {
			continue
		}
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("序列化 swarm %s 失败: %w", id, err)
		}
		payload := string(raw)
		if g.written[id] == payload {
			continue
		}
		changed = append(changed, row{id: id, payload: payload, s: s})
	}
	if len(changed) == 0 {
		return nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, g.upsertQuery())
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("准备写入语句失败: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, r := range changed {
		if _, err := stmt.ExecContext(ctx,
			r.id, r.payload, r.s.Width, r.s.Length, r.s.CreatedAt, now,
			len(r.s.Pending), len(r.s.Done),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入 swarm %s 失败: %w", r.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	for _, r := range changed {
		g.written[r.id] = r.payload
	}
	return nil
}

func (g *SQLGateway) upsertQuery() string {
	const insert = `INSERT INTO swarms (id, payload, width, length, created_at, updated_at, pending_count, done_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if g.dialect == DriverMySQL {
		return insert + `
ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at),
    pending_count = VALUES(pending_count), done_count = VALUES(done_count)`
	}
	return insert + `
ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at,
    pending_count = excluded.pending_count, done_count = excluded.done_count`
}

// Driver 返回驱动名。
func (g *SQLGateway) Driver() string { return g.dialect }

// Close 关闭数据库连接。
func (g *SQLGateway) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

var _ Gateway = (*SQLGateway)(nil)
