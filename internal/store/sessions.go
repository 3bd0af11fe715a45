package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"skillsense/internal/logging"
)

// EnsureSession creates the session on first sight and bumps last_active
// on every subsequent call.
func (s *Store) EnsureSession(sessionID, workspacePath string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, workspace_path, started_at, last_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			workspace_path = excluded.workspace_path,
			last_active = excluded.last_active`,
		sessionID, workspacePath, now, now)
	if err != nil {
		return storeErr("ensure session", err)
	}
	logging.SessionDebug("Ensured session %s (workspace %s)", sessionID, workspacePath)
	return nil
}

// GetSession returns a session by id, or nil if absent.
func (s *Store) GetSession(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	err := s.db.QueryRow(
		`SELECT session_id, workspace_path, started_at, last_active FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&sess.SessionID, &sess.WorkspacePath, &sess.StartedAt, &sess.LastActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get session", err)
	}
	return &sess, nil
}

// RecentMessages returns up to limit messages for a session, newest
// first by sequence.
func (s *Store) RecentMessages(sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, sequence, role, event_type, tool_name, content_preview, active_skills, logged_at
		FROM message_log
		WHERE session_id = ?
		ORDER BY sequence DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, storeErr("recent messages", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m                   Message
			role                string
			tool, preview, snap sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sequence, &role, &m.EventType,
			&tool, &preview, &snap, &m.LoggedAt); err != nil {
			return nil, storeErr("recent messages", err)
		}
		m.Role = MessageRole(role)
		m.ToolName = tool.String
		m.ContentPreview = preview.String
		if snap.Valid && snap.String != "" {
			_ = json.Unmarshal([]byte(snap.String), &m.ActiveSkills)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ActiveSkills returns the session's active skill rows ordered by skill id.
func (s *Store) ActiveSkills(sessionID string) ([]SessionSkill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeSkills(s.db, sessionID)
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func activeSkills(q querier, sessionID string) ([]SessionSkill, error) {
	rows, err := q.Query(`
		SELECT session_id, skill_id, activated_at, activation_reason
		FROM session_skills
		WHERE session_id = ?
		ORDER BY skill_id`, sessionID)
	if err != nil {
		return nil, storeErr("active skills", err)
	}
	defer rows.Close()

	var out []SessionSkill
	for rows.Next() {
		var (
			ss     SessionSkill
			reason sql.NullString
		)
		if err := rows.Scan(&ss.SessionID, &ss.SkillID, &ss.ActivatedAt, &reason); err != nil {
			return nil, storeErr("active skills", err)
		}
		ss.ActivationReason = reason.String
		out = append(out, ss)
	}
	return out, rows.Err()
}

// ActivateSkill inserts a session_skills row. Re-activating an active
// skill is a no-op that preserves the original activated_at and reason;
// the bool reports whether a row was inserted.
func (s *Store) ActivateSkill(sessionID, skillID, reason string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activateSkill(s.db, sessionID, skillID, reason, now)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func activateSkill(e execer, sessionID, skillID, reason string, now time.Time) (bool, error) {
	res, err := e.Exec(`
		INSERT INTO session_skills (session_id, skill_id, activated_at, activation_reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, skill_id) DO NOTHING`,
		sessionID, skillID, now, reason)
	if err != nil {
		return false, storeErr("activate skill", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeactivateSkill removes a session_skills row. Deactivating an inactive
// skill returns false and no error.
func (s *Store) DeactivateSkill(sessionID, skillID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deactivateSkill(s.db, sessionID, skillID)
}

func deactivateSkill(e execer, sessionID, skillID string) (bool, error) {
	res, err := e.Exec(`DELETE FROM session_skills WHERE session_id = ? AND skill_id = ?`,
		sessionID, skillID)
	if err != nil {
		return false, storeErr("deactivate skill", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Reconcile applies an evaluation's outcome in a single transaction:
// activations, deactivations, the message-log row with its active-skill
// snapshot, and the session last_active bump. On any failure the store is
// left in its pre-call state.
func (s *Store) Reconcile(sessionID string, activations []Activation, deactivations []string, msg *Message, now time.Time) (*ReconcileResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Reconcile")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, storeErr("reconcile", err)
	}
	defer tx.Rollback()

	result := &ReconcileResult{}

	for _, a := range activations {
		inserted, err := activateSkill(tx, sessionID, a.SkillID, a.Reason, now)
		if err != nil {
			return nil, err
		}
		if inserted {
			result.Activated = append(result.Activated, a.SkillID)
		} else {
			result.AlreadyActive = append(result.AlreadyActive, a.SkillID)
		}
	}

	for _, id := range deactivations {
		removed, err := deactivateSkill(tx, sessionID, id)
		if err != nil {
			return nil, err
		}
		if removed {
			result.Deactivated = append(result.Deactivated, id)
		} else {
			result.NoopDeactivations = append(result.NoopDeactivations, id)
		}
	}

	active, err := activeSkills(tx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, ss := range active {
		result.Snapshot = append(result.Snapshot, ss.SkillID)
	}

	if msg != nil {
		var seq int
		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM message_log WHERE session_id = ?`,
			sessionID,
		).Scan(&seq); err != nil {
			return nil, storeErr("reconcile sequence", err)
		}

		snap, err := json.Marshal(result.Snapshot)
		if err != nil {
			return nil, storeErr("reconcile snapshot", err)
		}
		var emb any
		if len(msg.ContentEmbedding) > 0 {
			b, err := json.Marshal(msg.ContentEmbedding)
			if err != nil {
				return nil, storeErr("reconcile embedding", err)
			}
			emb = string(b)
		}

		_, err = tx.Exec(`
			INSERT INTO message_log (session_id, sequence, role, event_type, tool_name, content_preview, content_embedding, active_skills, logged_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, seq, string(msg.Role), msg.EventType,
			nullable(msg.ToolName), nullable(msg.ContentPreview), emb, string(snap), now)
		if err != nil {
			return nil, storeErr("reconcile message", err)
		}
		result.Sequence = seq
	}

	if _, err := tx.Exec(`UPDATE sessions SET last_active = ? WHERE session_id = ?`, now, sessionID); err != nil {
		return nil, storeErr("reconcile session touch", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("reconcile", err)
	}

	logging.Session("Reconciled session %s: +%d -%d (seq %d)",
		sessionID, len(result.Activated), len(result.Deactivated), result.Sequence)
	return result, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
