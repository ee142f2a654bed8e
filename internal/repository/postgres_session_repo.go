package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/hubgate/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したハンドシェイクセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はpending状態のセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	payload, err := encodePayload(session.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, action, status, payload,
		                       app_version, os, hardware_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		session.ID, nullableString(session.UserID), session.Action, session.Status, payload,
		session.ClientMeta.AppVersion, session.ClientMeta.OS, session.ClientMeta.HardwareID,
		session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
// 期限切れのpendingセッションはStatusExpiredとして実体化して返す。
// 期限の評価は作成時と同じアプリケーション側の時計で行い、書き戻しは行わない。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session, err := r.scanSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	session.Status = session.EffectiveStatus(time.Now())
	return session, nil
}

// Transition はfromからtoへの状態遷移を単一の条件付きUPDATEで行う。
// UPDATEのWHERE句でstatusとexpires_atを同時に比較することで、
// 並行するコールバック配送のうちちょうど1つだけが勝者となることを保証する。
func (r *PostgresSessionRepo) Transition(ctx context.Context, id string, from, to model.SessionStatus, userID string, payload map[string]string) error {
	encoded, err := encodePayload(payload)
	if err != nil {
		return err
	}

	now := time.Now()
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET status = $1, payload = $2, completed_at = $3,
		     user_id = COALESCE($4, user_id)
		 WHERE id = $5 AND status = $6 AND expires_at > $7`,
		to, encoded, now, nullableString(userID), id, from, now,
	)
	if err != nil {
		return fmt.Errorf("failed to transition session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	// 条件付きUPDATEが空振りした場合は再読込して敗因を分類する。
	return r.classifyTransitionFailure(ctx, id, from)
}

// classifyTransitionFailure は条件付きUPDATE失敗の原因を
// NotFound / Expired / Conflict のいずれかに分類する。
func (r *PostgresSessionRepo) classifyTransitionFailure(ctx context.Context, id string, from model.SessionStatus) error {
	session, err := r.scanSession(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		return model.NewSessionNotFoundError()
	}
	if session.EffectiveStatus(time.Now()) == model.StatusExpired {
		return model.NewSessionExpiredError()
	}
	if session.Status != from {
		return model.NewSessionConflictError()
	}
	// statusは一致しているのにUPDATEが空振りした: UPDATEと再読込の間に
	// 期限を跨いだ競合とみなし、期限切れとして扱う。
	return model.NewSessionExpiredError()
}

// DeleteExpired は期限切れセッションの行を物理削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// scanSession はセッション行を1件読み取る。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) scanSession(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var userID sql.NullString
	var completedAt sql.NullTime
	var payload []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, action, status, payload,
		        app_version, os, hardware_id, expires_at, created_at, completed_at
		 FROM sessions
		 WHERE id = $1`,
		id,
	).Scan(
		&session.ID, &userID, &session.Action, &session.Status, &payload,
		&session.ClientMeta.AppVersion, &session.ClientMeta.OS, &session.ClientMeta.HardwareID,
		&session.ExpiresAt, &session.CreatedAt, &completedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	if userID.Valid {
		session.UserID = userID.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		session.CompletedAt = &t
	}
	if err := json.Unmarshal(payload, &session.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode session payload: %w", err)
	}

	return session, nil
}

// encodePayload はペイロードをJSONBカラム用にエンコードする。
// nilマップは空オブジェクトとして保存する。
func encodePayload(payload map[string]string) ([]byte, error) {
	if payload == nil {
		payload = map[string]string{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session payload: %w", err)
	}
	return encoded, nil
}

// nullableString は空文字列をNULLに変換する。
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
