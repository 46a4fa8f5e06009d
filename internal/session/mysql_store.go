package session

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "Sigha-Chain/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 保存封印记录。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS trace_seals (
        session_id VARCHAR(64) PRIMARY KEY,
        bit_length INT NOT NULL,
        context_digest CHAR(64) NOT NULL,
        fingerprint TEXT NOT NULL,
        depth INT NOT NULL,
        snapshot_count INT NOT NULL DEFAULT 0,
        payload_digest CHAR(64) NOT NULL,
        anchor CHAR(64) NOT NULL,
        anchor_tx VARCHAR(128) DEFAULT '',
        blob MEDIUMBLOB NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_seal_created (created_at),
        INDEX idx_seal_context (context_digest)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 trace_seals 表失败")
	}
	return nil
}

// SaveSeal 插入新的封印记录。
func (s *MySQLStore) SaveSeal(ctx context.Context, record *SealRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if strings.TrimSpace(record.SessionID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO trace_seals
        (session_id, bit_length, context_digest, fingerprint, depth, snapshot_count, payload_digest, anchor, anchor_tx, blob, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		record.SessionID,
		record.BitLength,
		record.ContextDigest,
		record.T,
		record.Depth,
		record.SnapshotCount,
		record.PayloadDigest,
		record.Anchor,
		record.AnchorTx,
		record.Blob,
		record.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "会话已存在封印记录")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入封印记录失败")
	}
	return nil
}

// GetSeal 查询指定会话的封印记录。
func (s *MySQLStore) GetSeal(ctx context.Context, sessionID string) (*SealRecord, error) {
	const stmt = `SELECT session_id, bit_length, context_digest, fingerprint, depth, snapshot_count,
        payload_digest, anchor, anchor_tx, blob, created_at
        FROM trace_seals WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, stmt, sessionID)

	var record SealRecord
	if err := row.Scan(
		&record.SessionID,
		&record.BitLength,
		&record.ContextDigest,
		&record.T,
		&record.Depth,
		&record.SnapshotCount,
		&record.PayloadDigest,
		&record.Anchor,
		&record.AnchorTx,
		&record.Blob,
		&record.CreatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSealNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询封印记录失败")
	}
	return &record, nil
}

// ListSeals 返回最近的封印记录。
func (s *MySQLStore) ListSeals(ctx context.Context, limit int) ([]*SealRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const stmt = `SELECT session_id, bit_length, context_digest, fingerprint, depth, snapshot_count,
        payload_digest, anchor, anchor_tx, blob, created_at
        FROM trace_seals ORDER BY created_at DESC, session_id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询封印列表失败")
	}
	defer rows.Close()

	var records []*SealRecord
	for rows.Next() {
		var record SealRecord
		if err := rows.Scan(
			&record.SessionID,
			&record.BitLength,
			&record.ContextDigest,
			&record.T,
			&record.Depth,
			&record.SnapshotCount,
			&record.PayloadDigest,
			&record.Anchor,
			&record.AnchorTx,
			&record.Blob,
			&record.CreatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描封印记录失败")
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历封印记录失败")
	}
	return records, nil
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
