package store

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSkill(id, name string, emb []float64) *Skill {
	return &Skill{
		ID:          id,
		Name:        name,
		Path:        "/skills/" + name + "/SKILL.md",
		Description: "desc of " + name,
		Embedding:   emb,
		ContentHash: "hash-" + id,
		IndexedAt:   time.Now().UTC(),
		Source:      SourceUser,
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	for _, table := range []string{"skill_index", "file_hashes", "sessions", "message_log", "session_skills"} {
		if _, ok := stats[table]; !ok {
			t.Errorf("Stats missing table %s", table)
		}
	}
}

func TestUpsertSkillRoundTrip(t *testing.T) {
	s := newTestStore(t)

	sk := testSkill("aaa", "writing-helper", []float64{0.1, 0.2, 0.3})
	sk.Metadata = map[string]any{"tags": []any{"writing"}}
	if err := s.UpsertSkill(sk); err != nil {
		t.Fatalf("UpsertSkill failed: %v", err)
	}

	got, err := s.GetSkill("aaa")
	if err != nil {
		t.Fatalf("GetSkill failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetSkill returned nil")
	}
	if got.Name != "writing-helper" || got.Description != "desc of writing-helper" {
		t.Errorf("Skill fields mismatch: %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Errorf("Embedding mismatch: %v", got.Embedding)
	}
	if got.Source != SourceUser {
		t.Errorf("Source = %s", got.Source)
	}

	// Upsert with same id updates in place.
	sk.Name = "renamed"
	sk.ContentHash = "hash-2"
	if err := s.UpsertSkill(sk); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	skills, err := s.ListSkills()
	if err != nil {
		t.Fatalf("ListSkills failed: %v", err)
	}
	if len(skills) != 1 {
		t.Fatalf("Expected 1 skill after re-upsert, got %d", len(skills))
	}
	if skills[0].Name != "renamed" {
		t.Errorf("Update not applied: %s", skills[0].Name)
	}

	// File hash was written atomically with the skill.
	fh, err := s.GetFileHash(sk.Path)
	if err != nil {
		t.Fatalf("GetFileHash failed: %v", err)
	}
	if fh == nil || fh.ContentHash != "hash-2" {
		t.Errorf("File hash not upserted with skill: %+v", fh)
	}
}

func TestFindSkillByIDThenName(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertSkill(testSkill("abc123", "helper", nil)); err != nil {
		t.Fatal(err)
	}

	byID, err := s.FindSkill("abc123")
	if err != nil || byID == nil {
		t.Fatalf("FindSkill by id: %v, %v", byID, err)
	}
	byName, err := s.FindSkill("helper")
	if err != nil || byName == nil {
		t.Fatalf("FindSkill by name: %v, %v", byName, err)
	}
	if byID.ID != byName.ID {
		t.Error("FindSkill should resolve name to the same record")
	}
	missing, err := s.FindSkill("nope")
	if err != nil {
		t.Fatalf("FindSkill unknown: %v", err)
	}
	if missing != nil {
		t.Error("FindSkill for unknown identifier should return nil")
	}
}

func TestRemoveSkillByPath(t *testing.T) {
	s := newTestStore(t)
	sk := testSkill("rm1", "doomed", nil)
	if err := s.UpsertSkill(sk); err != nil {
		t.Fatal(err)
	}

	removed, err := s.RemoveSkillByPath(sk.Path)
	if err != nil {
		t.Fatalf("RemoveSkillByPath failed: %v", err)
	}
	if !removed {
		t.Error("Expected removal to report true")
	}

	if got, _ := s.GetSkill("rm1"); got != nil {
		t.Error("Skill should be gone")
	}
	if fh, _ := s.GetFileHash(sk.Path); fh != nil {
		t.Error("File hash should be gone in the same pass")
	}

	again, err := s.RemoveSkillByPath(sk.Path)
	if err != nil {
		t.Fatalf("Second remove errored: %v", err)
	}
	if again {
		t.Error("Second remove should report false")
	}
}

func TestSearchSkillsOrderingAndTieBreak(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertSkill(testSkill("s1", "exact", []float64{1, 0})); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertSkill(testSkill("s2", "orthogonal", []float64{0, 1})); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertSkill(testSkill("s3", "close", []float64{0.9, 0.1})); err != nil {
		t.Fatal(err)
	}

	matches, err := s.SearchSkills([]float64{1, 0}, 2)
	if err != nil {
		t.Fatalf("SearchSkills failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].Skill.ID != "s1" || matches[1].Skill.ID != "s3" {
		t.Errorf("Order = [%s, %s], want [s1, s3]", matches[0].Skill.ID, matches[1].Skill.ID)
	}
	for _, m := range matches {
		if m.Skill.ID == "s2" {
			t.Error("Orthogonal skill must never rank in top 2")
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	if err := s.EnsureSession("sess-1", "/work", now); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	first, err := s.GetSession("sess-1")
	if err != nil || first == nil {
		t.Fatalf("GetSession: %v, %v", first, err)
	}

	later := now.Add(time.Minute)
	if err := s.EnsureSession("sess-1", "/work", later); err != nil {
		t.Fatalf("Second EnsureSession failed: %v", err)
	}
	second, err := s.GetSession("sess-1")
	if err != nil || second == nil {
		t.Fatalf("GetSession: %v, %v", second, err)
	}
	if !second.LastActive.After(first.LastActive) {
		t.Error("last_active should advance on re-ensure")
	}
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Error("started_at must not change on re-ensure")
	}
}

func TestActivateSkillIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	if err := s.EnsureSession("sess-1", "/work", now); err != nil {
		t.Fatal(err)
	}

	inserted, err := s.ActivateSkill("sess-1", "sk-1", "similarity=0.9", now)
	if err != nil {
		t.Fatalf("ActivateSkill failed: %v", err)
	}
	if !inserted {
		t.Error("First activation should insert")
	}

	inserted, err = s.ActivateSkill("sess-1", "sk-1", "other reason", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Re-activation errored: %v", err)
	}
	if inserted {
		t.Error("Re-activation must be a no-op")
	}

	active, err := s.ActiveSkills("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected exactly 1 row, got %d", len(active))
	}
	if active[0].ActivationReason != "similarity=0.9" {
		t.Errorf("Original reason must be preserved, got %q", active[0].ActivationReason)
	}
	if active[0].ActivatedAt.After(now.Add(30 * time.Minute)) {
		t.Error("Original activated_at must be preserved")
	}
}

func TestDeactivateInactiveIsNoop(t *testing.T) {
	s := newTestStore(t)

	removed, err := s.DeactivateSkill("sess-1", "never-active")
	if err != nil {
		t.Fatalf("Deactivating inactive skill must not error: %v", err)
	}
	if removed {
		t.Error("Expected no-op result")
	}
}

func TestReconcileAtomicUnit(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	if err := s.EnsureSession("sess-1", "/work", now); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActivateSkill("sess-1", "old", "r", now); err != nil {
		t.Fatal(err)
	}

	res, err := s.Reconcile("sess-1",
		[]Activation{{SkillID: "new", Reason: "hook:user_prompt_submit"}, {SkillID: "old", Reason: "x"}},
		[]string{"old", "ghost"},
		&Message{Role: RoleUser, EventType: "UserPromptSubmit", ContentPreview: "hello"},
		now.Add(time.Second))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(res.Activated) != 1 || res.Activated[0] != "new" {
		t.Errorf("Activated = %v", res.Activated)
	}
	if len(res.AlreadyActive) != 1 || res.AlreadyActive[0] != "old" {
		t.Errorf("AlreadyActive = %v", res.AlreadyActive)
	}
	if len(res.Deactivated) != 1 || res.Deactivated[0] != "old" {
		t.Errorf("Deactivated = %v", res.Deactivated)
	}
	if len(res.NoopDeactivations) != 1 || res.NoopDeactivations[0] != "ghost" {
		t.Errorf("NoopDeactivations = %v", res.NoopDeactivations)
	}
	if len(res.Snapshot) != 1 || res.Snapshot[0] != "new" {
		t.Errorf("Snapshot = %v", res.Snapshot)
	}
	if res.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", res.Sequence)
	}

	msgs, err := s.RecentMessages("sess-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Sequence != 1 || msgs[0].ContentPreview != "hello" {
		t.Errorf("Message = %+v", msgs[0])
	}
	if len(msgs[0].ActiveSkills) != 1 || msgs[0].ActiveSkills[0] != "new" {
		t.Errorf("ActiveSkills snapshot = %v", msgs[0].ActiveSkills)
	}
}

func TestMessageSequenceStrictlyIncreases(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	if err := s.EnsureSession("sess-1", "/work", now); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		res, err := s.Reconcile("sess-1", nil, nil,
			&Message{Role: RoleUser, EventType: "UserPromptSubmit"}, now)
		if err != nil {
			t.Fatalf("Reconcile %d failed: %v", i, err)
		}
		if res.Sequence != i {
			t.Errorf("Sequence = %d, want %d", res.Sequence, i)
		}
	}

	msgs, err := s.RecentMessages("sess-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Sequence != 3 || msgs[1].Sequence != 2 {
		t.Errorf("RecentMessages should be newest-first: %+v", msgs)
	}
}

func TestStoreErrorTyping(t *testing.T) {
	s := newTestStore(t)
	s.Close()

	_, err := s.Stats()
	if err == nil {
		t.Fatal("Stats on closed store should fail")
	}
	if !IsStoreError(err) {
		t.Errorf("Expected a StoreError, got %T: %v", err, err)
	}
}
