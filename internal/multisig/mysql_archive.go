package multisig

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/GMAn0n/AI-COUNCIL-BETA/deploy/migrations"
	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

// MySQLArchive 把提案终态落入 MySQL，供事后审计查询。
// 账本本身仍在内存中，归档是追加式旁路，不参与状态机。
type MySQLArchive struct {
	db *sql.DB
}

// NewMySQLArchive 创建归档存储并初始化表结构。
func NewMySQLArchive(dsn string) (*MySQLArchive, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	archive := &MySQLArchive{db: db}
	if err := archive.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return archive, nil
}

// initSchema 按文件名顺序执行内嵌迁移，每个文件一条语句。
func (a *MySQLArchive) initSchema() error {
	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取归档迁移文件失败")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		statement, err := migrations.Files.ReadFile(name)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移 "+name+" 失败")
		}
		if _, err := a.db.Exec(string(statement)); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移 "+name+" 失败")
		}
	}
	return nil
}

// Save 写入或更新一条提案归档记录。
func (a *MySQLArchive) Save(ctx context.Context, proposal *Proposal) error {
	if proposal == nil || strings.TrimSpace(proposal.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "归档提案缺少 ID")
	}
	intentData, err := trade.MarshalIntent(proposal.Intent)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码归档交易意图失败")
	}
	votes := proposal.Votes
	if votes == nil {
		votes = []Vote{}
	}
	votesData, err := json.Marshal(votes)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码归档投票记录失败")
	}

	const stmt = `INSERT INTO council_proposals
        (id, intent, votes, status, tx_hash, error_message, archived_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        votes = VALUES(votes), status = VALUES(status),
        tx_hash = VALUES(tx_hash), error_message = VALUES(error_message),
        archived_at = VALUES(archived_at)`

	_, err = a.db.ExecContext(ctx, stmt,
		proposal.ID,
		string(intentData),
		string(votesData),
		proposal.Status,
		proposal.TxHash,
		proposal.ErrorMessage,
		time.Now().Unix(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入提案归档失败")
	}
	return nil
}

// Get 按提案 ID 读取归档记录。
func (a *MySQLArchive) Get(ctx context.Context, id string) (*Proposal, error) {
	const query = `SELECT id, intent, votes, status, tx_hash, error_message
        FROM council_proposals WHERE id = ?`
	row := a.db.QueryRowContext(ctx, query, id)
	proposal, err := scanProposal(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	return proposal, nil
}

// ListByStatus 按状态列出归档记录，按归档时间倒序。
func (a *MySQLArchive) ListByStatus(ctx context.Context, status Status, limit int) ([]*Proposal, error) {
	if !IsValidStatus(status) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "归档查询状态非法")
	}
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, intent, votes, status, tx_hash, error_message
        FROM council_proposals WHERE status = ? ORDER BY archived_at DESC LIMIT ?`
	rows, err := a.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提案归档失败")
	}
	defer rows.Close()

	var out []*Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历提案归档失败")
	}
	return out, nil
}

// Close 关闭数据库连接。
func (a *MySQLArchive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*Proposal, error) {
	var (
		proposal     Proposal
		intentData   string
		votesData    string
		errorMessage sql.NullString
	)
	if err := row.Scan(&proposal.ID, &intentData, &votesData, &proposal.Status, &proposal.TxHash, &errorMessage); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取提案归档行失败")
	}
	intent, err := trade.UnmarshalIntent([]byte(intentData))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码归档交易意图失败")
	}
	proposal.Intent = intent
	if err := json.Unmarshal([]byte(votesData), &proposal.Votes); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码归档投票记录失败")
	}
	proposal.ErrorMessage = errorMessage.String
	return &proposal, nil
}
