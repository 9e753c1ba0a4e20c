package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/engramdev/engram/internal/crypto"
	"github.com/engramdev/engram/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cipher, err := crypto.New([]byte("test secret"))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	s, err := New(Config{Cipher: cipher})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func mustCreate(t *testing.T, s *Store, p CreateParams) *model.Memory {
	t.Helper()
	if p.Importance == 0 {
		p.Importance = 3
	}
	if p.Confidence == 0 {
		p.Confidence = 1.0
	}
	m, err := s.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return m
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := mustCreate(t, s, CreateParams{
		Kind:    model.KindEpisodic,
		Payload: &model.EpisodicPayload{Event: "standup", Participants: []string{"alice"}},
		Content: "daily standup with alice",
		Source:  "calendar",
	})
	if m.Version != 1 {
		t.Errorf("expected version 1, got %d", m.Version)
	}
	if m.ID == "" {
		t.Error("expected non-empty ID")
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Error("expected timestamps assigned")
	}

	got, err := s.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "daily standup with alice" {
		t.Errorf("content mismatch: %q", got.Content)
	}
	ep, ok := got.Payload.(*model.EpisodicPayload)
	if !ok {
		t.Fatalf("payload type lost: %T", got.Payload)
	}
	if len(ep.Participants) != 1 || ep.Participants[0] != "alice" {
		t.Errorf("payload mismatch: %+v", ep)
	}
}

func TestGetTracksAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := mustCreate(t, s, CreateParams{Kind: model.KindSemantic, Content: "fact"})

	first, _ := s.Get(ctx, m.ID)
	if first.AccessCount != 1 {
		t.Errorf("expected access count 1, got %d", first.AccessCount)
	}
	second, _ := s.Get(ctx, m.ID)
	if second.AccessCount != 2 {
		t.Errorf("expected access count 2, got %d", second.AccessCount)
	}
	if second.Version != 1 {
		t.Errorf("access tracking must not bump version, got %d", second.Version)
	}

	// Peek must not count.
	s.Peek(m.ID)
	third, _ := s.Get(ctx, m.ID)
	if third.AccessCount != 3 {
		t.Errorf("peek should not track access, got count %d", third.AccessCount)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "01MISSING"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cases := []struct {
		name string
		p    CreateParams
	}{
		{"empty content", CreateParams{Kind: model.KindSemantic, Importance: 3, Confidence: 1}},
		{"bad kind", CreateParams{Kind: "imaginary", Content: "x", Importance: 3, Confidence: 1}},
		{"importance too low", CreateParams{Kind: model.KindSemantic, Content: "x", Importance: 0, Confidence: 1}},
		{"importance too high", CreateParams{Kind: model.KindSemantic, Content: "x", Importance: 6, Confidence: 1}},
		{"confidence out of range", CreateParams{Kind: model.KindSemantic, Content: "x", Importance: 3, Confidence: 1.5}},
		{"payload kind mismatch", CreateParams{Kind: model.KindSemantic, Payload: &model.EpisodicPayload{Event: "e"}, Content: "x", Importance: 3, Confidence: 1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := s.Create(ctx, c.p)
			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestPrivateRequiresCipher(t *testing.T) {
	s, err := New(Config{}) // no cipher
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(s.Close)

	_, err = s.Create(context.Background(), CreateParams{
		Kind: model.KindEpisodic, Content: "secret meeting",
		Privacy: model.PrivacyPrivate, Importance: 3, Confidence: 1,
	})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError without cipher, got %v", err)
	}
}

func TestPrivateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := mustCreate(t, s, CreateParams{
		Kind:    model.KindEmotional,
		Payload: &model.EmotionalPayload{Primary: "anxiety", Trigger: "deadline"},
		Content: "felt anxious before the deadline",
		Privacy: model.PrivacyConfidential,
	})

	got, err := s.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "felt anxious before the deadline" {
		t.Errorf("content mismatch: %q", got.Content)
	}
	if got.Payload.(*model.EmotionalPayload).Primary != "anxiety" {
		t.Error("payload lost through encryption")
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := mustCreate(t, s, CreateParams{Kind: model.KindSemantic, Content: "go is compiled"})

	up, err := s.Update(ctx, m.ID, 1, func(mm *model.Memory) error {
		mm.Content = "go is statically compiled"
		mm.Importance = 4
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if up.Version != 2 {
		t.Errorf("expected version 2, got %d", up.Version)
	}
	if up.Content != "go is statically compiled" {
		t.Errorf("content not updated: %q", up.Content)
	}
	if !up.UpdatedAt.After(m.UpdatedAt) && !up.UpdatedAt.Equal(m.UpdatedAt) {
		t.Error("UpdatedAt went backwards")
	}

	// Stale version is rejected.
	_, err = s.Update(ctx, m.ID, 1, func(mm *model.Memory) error { return nil })
	var vc *model.VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}
	if vc.Expected != 1 || vc.Current != 2 {
		t.Errorf("conflict detail wrong: %+v", vc)
	}
}

func TestUpdatePreservesImmutableFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := mustCreate(t, s, CreateParams{Kind: model.KindProcedural, Content: "deploy steps"})

	up, err := s.Update(ctx, m.ID, 1, func(mm *model.Memory) error {
		mm.ID = "hijacked"
		mm.Kind = model.KindEmotional
		mm.Content = "still deploy steps"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if up.ID != m.ID || up.Kind != model.KindProcedural {
		t.Errorf("identity fields mutated: %s %s", up.ID, up.Kind)
	}
	if !up.CreatedAt.Equal(m.CreatedAt) {
		t.Error("CreatedAt changed on update")
	}
}

func TestUpdateRevalidates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := mustCreate(t, s, CreateParams{Kind: model.KindSemantic, Content: "fact"})

	_, err := s.Update(ctx, m.ID, 1, func(mm *model.Memory) error {
		mm.Importance = 9
		return nil
	})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	// Failed update must not bump the version.
	got, _ := s.Peek(m.ID)
	if got.Version != 1 {
		t.Errorf("failed update bumped version to %d", got.Version)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var cascaded []string
	s.SetCascade(func(id string) { cascaded = append(cascaded, id) })

	m := mustCreate(t, s, CreateParams{Kind: model.KindEpisodic, Content: "event"})
	if err := s.Delete(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Has(m.ID) {
		t.Error("record still present after delete")
	}
	if len(cascaded) != 1 || cascaded[0] != m.ID {
		t.Errorf("cascade hook not invoked: %v", cascaded)
	}
	if err := s.Delete(ctx, m.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCapacityLimit(t *testing.T) {
	cipher, _ := crypto.New([]byte("test secret"))
	s, err := New(Config{Cipher: cipher, MaxBytes: 512})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(s.Close)

	_, err = s.Create(context.Background(), CreateParams{
		Kind: model.KindSemantic, Content: strings.Repeat("x", 4096),
		Importance: 3, Confidence: 1,
	})
	var ce *model.CapacityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if ce.MaxBytes != 512 {
		t.Errorf("limit not reported: %+v", ce)
	}
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ch, cancel := s.Events().Subscribe(8, EventCreated, EventDeleted)
	defer cancel()

	m := mustCreate(t, s, CreateParams{Kind: model.KindSemantic, Content: "fact"})
	s.Update(ctx, m.ID, 1, func(mm *model.Memory) error { mm.Content = "fact v2"; return nil })
	s.Delete(ctx, m.ID)

	e := <-ch
	if e.Kind != EventCreated || e.ID != m.ID || e.Version != 1 {
		t.Errorf("unexpected first event: %+v", e)
	}
	// The update was filtered out; next is the delete.
	e = <-ch
	if e.Kind != EventDeleted || e.ID != m.ID {
		t.Errorf("unexpected second event: %+v", e)
	}
}

func TestSetDecayed(t *testing.T) {
	s := newTestStore(t)
	m := mustCreate(t, s, CreateParams{Kind: model.KindSemantic, Content: "fact"})

	if !s.SetDecayed(m.ID, 0.42, m.CreatedAt) {
		t.Fatal("SetDecayed reported missing record")
	}
	got, _ := s.Peek(m.ID)
	if got.Metadata[MetaDecayed] == "" {
		t.Error("decayed metadata not written")
	}
	if got.Version != 1 {
		t.Errorf("decay bookkeeping must not bump version, got %d", got.Version)
	}
	if s.SetDecayed("01MISSING", 0.1, m.CreatedAt) {
		t.Error("expected false for unknown id")
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := mustCreate(t, s, CreateParams{Kind: model.KindSemantic, Content: "original"})
	m2, _ := s.Update(ctx, m.ID, 1, func(mm *model.Memory) error { mm.Content = "revised"; return nil })

	fresh := newTestStore(t)
	if err := fresh.Restore([]*model.Memory{m2}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := fresh.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get after restore: %v", err)
	}
	if got.Version != 2 || got.Content != "revised" {
		t.Errorf("restore lost state: v%d %q", got.Version, got.Content)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Error("restore changed CreatedAt")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, CreateParams{Kind: model.KindSemantic, Content: "a", Importance: 2})
	mustCreate(t, s, CreateParams{Kind: model.KindSemantic, Content: "b", Importance: 4})
	mustCreate(t, s, CreateParams{Kind: model.KindEpisodic, Content: "c", Importance: 3})

	st := s.Stats()
	if st.TotalRecords != 3 {
		t.Errorf("expected 3 records, got %d", st.TotalRecords)
	}
	if st.ByKind[model.KindSemantic] != 2 || st.ByKind[model.KindEpisodic] != 1 {
		t.Errorf("kind counts wrong: %v", st.ByKind)
	}
	if st.StorageBytes <= 0 {
		t.Error("expected positive storage bytes")
	}
	if st.MeanImportance != 3 {
		t.Errorf("expected mean importance 3, got %g", st.MeanImportance)
	}
}
