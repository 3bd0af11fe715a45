package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"skillsense/internal/embedding"
	"skillsense/internal/logging"
)

// UpsertSkill writes a skill and its file hash as one atomic unit, so a
// reader never observes a fresh hash paired with a stale embedding.
func (s *Store) UpsertSkill(sk *Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	emb, err := json.Marshal(sk.Embedding)
	if err != nil {
		return storeErr("upsert skill", err)
	}
	meta, err := json.Marshal(sk.Metadata)
	if err != nil {
		return storeErr("upsert skill", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("upsert skill", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO skill_index (id, name, path, description, embedding, metadata, content_hash, indexed_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			description = excluded.description,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			content_hash = excluded.content_hash,
			indexed_at = excluded.indexed_at,
			source = excluded.source`,
		sk.ID, sk.Name, sk.Path, sk.Description, string(emb), string(meta),
		sk.ContentHash, sk.IndexedAt, string(sk.Source))
	if err != nil {
		return storeErr("upsert skill", err)
	}

	_, err = tx.Exec(`
		INSERT INTO file_hashes (path, content_hash, last_checked)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			last_checked = excluded.last_checked`,
		sk.Path, sk.ContentHash, sk.IndexedAt)
	if err != nil {
		return storeErr("upsert file hash", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("upsert skill", err)
	}

	logging.StoreDebug("Upserted skill %s (%s)", sk.ID, sk.Name)
	return nil
}

// TouchFileHash refreshes last_checked for an unchanged file.
func (s *Store) TouchFileHash(path string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE file_hashes SET last_checked = ? WHERE path = ?`, at, path)
	return storeErr("touch file hash", err)
}

// GetFileHash returns the stored hash for a path, or nil if absent.
func (s *Store) GetFileHash(path string) (*FileHash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fh FileHash
	err := s.db.QueryRow(
		`SELECT path, content_hash, last_checked FROM file_hashes WHERE path = ?`, path,
	).Scan(&fh.Path, &fh.ContentHash, &fh.LastChecked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get file hash", err)
	}
	return &fh, nil
}

// ListFileHashPaths returns every tracked path. Used for deletion
// detection.
func (s *Store) ListFileHashPaths() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT path FROM file_hashes ORDER BY path`)
	if err != nil {
		return nil, storeErr("list file hashes", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, storeErr("list file hashes", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// RemoveSkillByPath deletes the skill and its file hash in one pass.
// Returns true when a skill row was removed.
func (s *Store) RemoveSkillByPath(path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, storeErr("remove skill", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM skill_index WHERE path = ?`, path)
	if err != nil {
		return false, storeErr("remove skill", err)
	}
	if _, err := tx.Exec(`DELETE FROM file_hashes WHERE path = ?`, path); err != nil {
		return false, storeErr("remove skill", err)
	}
	if err := tx.Commit(); err != nil {
		return false, storeErr("remove skill", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("Removed skill at %s", path)
	}
	return n > 0, nil
}

// GetSkill returns a skill by id, or nil if absent.
func (s *Store) GetSkill(id string) (*Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.querySkill(`WHERE id = ?`, id)
}

// FindSkill resolves a ruleset-supplied identifier: skill id first, then
// unique name.
func (s *Store) FindSkill(identifier string) (*Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sk, err := s.querySkill(`WHERE id = ?`, identifier)
	if err != nil || sk != nil {
		return sk, err
	}
	return s.querySkill(`WHERE name = ? ORDER BY id LIMIT 1`, identifier)
}

func (s *Store) querySkill(where string, args ...any) (*Skill, error) {
	var (
		sk       Skill
		source   string
		emb, met sql.NullString
		desc     sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT id, name, path, description, embedding, metadata, content_hash, indexed_at, source
		 FROM skill_index `+where, args...,
	).Scan(&sk.ID, &sk.Name, &sk.Path, &desc, &emb, &met, &sk.ContentHash, &sk.IndexedAt, &source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get skill", err)
	}

	sk.Description = desc.String
	sk.Source = SkillSource(source)
	if emb.Valid && emb.String != "" {
		if err := json.Unmarshal([]byte(emb.String), &sk.Embedding); err != nil {
			return nil, storeErr("decode embedding", err)
		}
	}
	if met.Valid && met.String != "" {
		_ = json.Unmarshal([]byte(met.String), &sk.Metadata)
	}
	return &sk, nil
}

// ListSkills returns all indexed skills ordered by id.
func (s *Store) ListSkills() ([]Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, name, path, description, embedding, metadata, content_hash, indexed_at, source
		 FROM skill_index ORDER BY id`)
	if err != nil {
		return nil, storeErr("list skills", err)
	}
	defer rows.Close()

	var skills []Skill
	for rows.Next() {
		var (
			sk       Skill
			source   string
			emb, met sql.NullString
			desc     sql.NullString
		)
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.Path, &desc, &emb, &met,
			&sk.ContentHash, &sk.IndexedAt, &source); err != nil {
			return nil, storeErr("list skills", err)
		}
		sk.Description = desc.String
		sk.Source = SkillSource(source)
		if emb.Valid && emb.String != "" {
			if err := json.Unmarshal([]byte(emb.String), &sk.Embedding); err != nil {
				return nil, storeErr("decode embedding", err)
			}
		}
		if met.Valid && met.String != "" {
			_ = json.Unmarshal([]byte(met.String), &sk.Metadata)
		}
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

// SearchSkills ranks all indexed skills against a query vector by cosine
// similarity, descending; equal scores break by skill id ascending.
// Returns at most limit matches.
func (s *Store) SearchSkills(query []float64, limit int) ([]SkillMatch, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchSkills")
	defer timer.Stop()

	skills, err := s.ListSkills()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Skill, len(skills))
	candidates := make([]embedding.Candidate, 0, len(skills))
	for i := range skills {
		byID[skills[i].ID] = &skills[i]
		candidates = append(candidates, embedding.Candidate{
			ID:     skills[i].ID,
			Vector: skills[i].Embedding,
		})
	}

	ranked := embedding.TopK(query, candidates, limit)
	matches := make([]SkillMatch, 0, len(ranked))
	for _, r := range ranked {
		matches = append(matches, SkillMatch{Skill: *byID[r.ID], Score: r.Score})
	}

	logging.StoreDebug("SearchSkills: %d candidates, returning %d", len(candidates), len(matches))
	return matches, nil
}
