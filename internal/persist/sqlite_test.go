package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/engramdev/engram/internal/crypto"
	"github.com/engramdev/engram/internal/model"
)

func newTestArchive(t *testing.T, cipher *crypto.Cipher) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "test.db"), cipher)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func sampleSnapshot(now time.Time) *model.Snapshot {
	return &model.Snapshot{
		ExportedAt: now,
		Records: []*model.Memory{
			{
				ID:         "01A",
				Kind:       model.KindEpisodic,
				Payload:    &model.EpisodicPayload{Event: "deploy", Participants: []string{"alice"}},
				Content:    "deployed the new release",
				CreatedAt:  now.Add(-time.Hour),
				UpdatedAt:  now,
				Source:     "ci",
				Confidence: 0.9,
				Privacy:    model.PrivacyPublic,
				Importance: 4,
				Metadata:   map[string]string{"tags": "ops"},
				Version:    2,
				AccessedAt: now,
			},
			{
				ID:         "01B",
				Kind:       model.KindSemantic,
				Payload:    &model.SemanticPayload{Subject: "release", Predicate: "requires", Object: "approval"},
				Content:    "releases require approval",
				CreatedAt:  now.Add(-2 * time.Hour),
				UpdatedAt:  now.Add(-2 * time.Hour),
				Confidence: 1.0,
				Privacy:    model.PrivacyPublic,
				Importance: 3,
				Version:    1,
			},
		},
		Associations: []model.Association{
			{Source: "01A", Target: "01B", Type: model.AssocCausal, Strength: 0.7, CreatedAt: now},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newTestArchive(t, nil)
	now := time.Now().UTC().Round(time.Microsecond)

	if err := a.Save(ctx, sampleSnapshot(now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(got.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got.Records))
	}
	var first *model.Memory
	for _, m := range got.Records {
		if m.ID == "01A" {
			first = m
		}
	}
	if first == nil {
		t.Fatal("record 01A missing")
	}
	if first.Content != "deployed the new release" || first.Version != 2 || first.Importance != 4 {
		t.Errorf("envelope mismatch: %+v", first)
	}
	if !first.CreatedAt.Equal(now.Add(-time.Hour)) {
		t.Errorf("timestamps drifted: %v", first.CreatedAt)
	}
	ep, ok := first.Payload.(*model.EpisodicPayload)
	if !ok {
		t.Fatalf("payload type lost: %T", first.Payload)
	}
	if ep.Event != "deploy" || len(ep.Participants) != 1 {
		t.Errorf("payload mismatch: %+v", ep)
	}

	if len(got.Associations) != 1 {
		t.Fatalf("expected 1 association, got %d", len(got.Associations))
	}
	e := got.Associations[0]
	if e.Source != "01A" || e.Target != "01B" || e.Type != model.AssocCausal || e.Strength != 0.7 {
		t.Errorf("association mismatch: %+v", e)
	}
}

func TestSaveReplacesPriorState(t *testing.T) {
	ctx := context.Background()
	a := newTestArchive(t, nil)
	now := time.Now().UTC()

	if err := a.Save(ctx, sampleSnapshot(now)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	smaller := &model.Snapshot{
		ExportedAt: now,
		Records:    sampleSnapshot(now).Records[:1],
	}
	if err := a.Save(ctx, smaller); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, _ := a.Load(ctx)
	if len(got.Records) != 1 {
		t.Errorf("save should replace, not append: %d records", len(got.Records))
	}
	if len(got.Associations) != 0 {
		t.Errorf("dropped associations survived: %d", len(got.Associations))
	}
}

func TestPrivateRecordsSealedAtRest(t *testing.T) {
	ctx := context.Background()
	cipher, err := crypto.New([]byte("archive secret"))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	a := newTestArchive(t, cipher)
	now := time.Now().UTC()

	snap := sampleSnapshot(now)
	snap.Records[0].Privacy = model.PrivacyPrivate
	if err := a.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	// The plaintext columns must be empty for the sealed record.
	var content *string
	row := a.db.QueryRowContext(ctx, `SELECT content FROM records WHERE id = ?`, "01A")
	if err := row.Scan(&content); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if content != nil && *content != "" {
		t.Errorf("private content stored in the clear: %q", *content)
	}

	got, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, m := range got.Records {
		if m.ID != "01A" {
			continue
		}
		if m.Content != "deployed the new release" {
			t.Errorf("sealed body did not round trip: %q", m.Content)
		}
		if m.Payload.(*model.EpisodicPayload).Event != "deploy" {
			t.Error("sealed payload lost")
		}
	}
}

func TestSavePrivateWithoutCipherFails(t *testing.T) {
	ctx := context.Background()
	a := newTestArchive(t, nil)
	now := time.Now().UTC()

	snap := sampleSnapshot(now)
	snap.Records[0].Privacy = model.PrivacyPrivate
	if err := a.Save(ctx, snap); err == nil {
		t.Error("expected error saving private record without cipher")
	}
}

func TestLoadEmptyArchive(t *testing.T) {
	a := newTestArchive(t, nil)
	got, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Records) != 0 || len(got.Associations) != 0 {
		t.Errorf("fresh archive should be empty: %+v", got)
	}
}

func TestReopenPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")
	now := time.Now().UTC()

	a, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := a.Save(ctx, sampleSnapshot(now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	a.Close()

	b, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Records) != 2 {
		t.Errorf("state lost across reopen: %d records", len(got.Records))
	}
}
