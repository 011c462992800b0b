package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "GigFlow/internal/errors"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore 把任务状态整条序列化后写入 MySQL，作为恢复语义的最终
// 事实来源。嵌套字段（phase_data、error_history 等）随整条 JSON 文档
// 一起存储，保证枚举与时间戳经序列化往返后逐位一致；另外抽出少量
// 列用于索引与扫描。
type MySQLStore struct {
	db *sql.DB
}

// MySQLConfig 描述 MySQL 连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewMySQLStore 创建一个新的 MySQLStore 并初始化表结构。
func NewMySQLStore(cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 20
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 10 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

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
	const schema = `CREATE TABLE IF NOT EXISTS saga_tasks (
        id VARCHAR(64) PRIMARY KEY,
        job_id VARCHAR(128) NOT NULL DEFAULT '',
        current_phase VARCHAR(32) NOT NULL,
        phase_attempts INT NOT NULL DEFAULT 0,
        state MEDIUMTEXT NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_saga_phase (current_phase),
        INDEX idx_saga_updated (updated_at)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 saga_tasks 表失败")
	}
	return nil
}

// Save 以整条覆盖的方式写入检查点。
func (s *MySQLStore) Save(ctx context.Context, state *TaskState) error {
	if state == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "state 不能为空")
	}
	if strings.TrimSpace(state.TaskID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	doc, err := json.Marshal(state)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化任务状态失败")
	}

	const stmt = `INSERT INTO saga_tasks
        (id, job_id, current_phase, phase_attempts, state, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        current_phase = VALUES(current_phase),
        phase_attempts = VALUES(phase_attempts),
        state = VALUES(state),
        updated_at = VALUES(updated_at)`

	_, err = s.db.ExecContext(ctx, stmt,
		state.TaskID,
		state.JobID,
		string(state.CurrentPhase),
		state.PhaseAttempts,
		string(doc),
		state.CreatedAt.Unix(),
		state.UpdatedAt.Unix(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务检查点失败")
	}
	return nil
}

// Load 读取并反序列化任务状态。
func (s *MySQLStore) Load(ctx context.Context, taskID string) (*TaskState, error) {
	const stmt = `SELECT state FROM saga_tasks WHERE id = ?`

	var doc string
	if err := s.db.QueryRowContext(ctx, stmt, taskID).Scan(&doc); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务状态失败")
	}
	return decodeState(doc)
}

// ListUnfinished 返回尚未进入终态的任务，按更新时间升序。
func (s *MySQLStore) ListUnfinished(ctx context.Context, limit int) ([]*TaskState, error) {
	if limit <= 0 {
		limit = 100
	}
	const stmt = `SELECT state FROM saga_tasks
        WHERE current_phase NOT IN (?, ?, ?)
        ORDER BY updated_at ASC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt,
		string(PhaseCompleted),
		string(PhaseFailed),
		string(PhaseCancelled),
		limit,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描未完成任务失败")
	}
	defer rows.Close()

	states := make([]*TaskState, 0, limit)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务记录失败")
		}
		state, err := decodeState(doc)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务记录失败")
	}
	return states, nil
}

// ListRecent 按更新时间倒序返回最近的任务，含终态任务。
func (s *MySQLStore) ListRecent(ctx context.Context, limit int) ([]*TaskState, error) {
	if limit <= 0 {
		limit = 100
	}
	const stmt = `SELECT state FROM saga_tasks
        ORDER BY updated_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询最近任务失败")
	}
	defer rows.Close()

	states := make([]*TaskState, 0, limit)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务记录失败")
		}
		state, err := decodeState(doc)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务记录失败")
	}
	return states, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeState(doc string) (*TaskState, error) {
	var state TaskState
	if err := json.Unmarshal([]byte(doc), &state); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务状态失败")
	}
	if !IsValidPhase(state.CurrentPhase) {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "持久化记录包含未知阶段: "+string(state.CurrentPhase))
	}
	return &state, nil
}

var _ StateStore = (*MySQLStore)(nil)
