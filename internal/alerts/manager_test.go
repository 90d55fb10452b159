package alerts

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/satoshis-endgame/sentinel/internal/adapters/config"
	"github.com/satoshis-endgame/sentinel/pkg/logger"
	"github.com/satoshis-endgame/sentinel/pkg/models"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", ""); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeNotifier struct {
	sent []models.EmergencyPattern
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, p models.EmergencyPattern) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, p)
	return nil
}

type fakeRepo struct {
	saved   []models.AlertRecord
	active  []models.AlertRecord
	saveErr error
}

func (f *fakeRepo) SaveAlert(ctx context.Context, r models.AlertRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeRepo) LoadActiveCooldowns(ctx context.Context, now time.Time) ([]models.AlertRecord, error) {
	return f.active, nil
}

func testPattern(kind models.PatternKind, addrs []string, windowStart time.Time) models.EmergencyPattern {
	return models.EmergencyPattern{
		Kind:            kind,
		Severity:        models.SeverityCritical,
		Score:           85,
		WalletAddresses: addrs,
		TotalValueBTC:   models.NewDecimal(120),
		WindowStart:     windowStart,
		WindowEnd:       windowStart.Add(30 * time.Minute),
	}
}

func newTestManager(notifier Notifier, repo Repository) (*Manager, *time.Time) {
	cfg := config.AlertsConfig{
		Cooldown:          30 * time.Minute,
		FingerprintBucket: 30 * time.Minute,
	}
	clock := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewManager(cfg, notifier, repo, nil)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestDuplicateSuppressedWithinCooldown(t *testing.T) {
	notifier := &fakeNotifier{}
	repo := &fakeRepo{}
	m, _ := newTestManager(notifier, repo)

	windowStart := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	p := testPattern(models.PatternDormantSurge, []string{"a", "b", "c"}, windowStart)

	m.Handle(context.Background(), p)
	m.Handle(context.Background(), p)

	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(notifier.sent))
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected 1 saved record, got %d", len(repo.saved))
	}
	if !repo.saved[0].Delivered {
		t.Error("expected record marked delivered")
	}
}

func TestRefiresAfterCooldownExpiry(t *testing.T) {
	notifier := &fakeNotifier{}
	repo := &fakeRepo{}
	m, clock := newTestManager(notifier, repo)

	windowStart := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	p := testPattern(models.PatternDormantSurge, []string{"a", "b"}, windowStart)

	m.Handle(context.Background(), p)
	*clock = clock.Add(31 * time.Minute)
	m.Handle(context.Background(), p)

	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(notifier.sent))
	}
}

func TestFingerprintIgnoresAddressOrder(t *testing.T) {
	m, _ := newTestManager(&fakeNotifier{}, &fakeRepo{})

	windowStart := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	a := m.Fingerprint(testPattern(models.PatternDormantSurge, []string{"x", "y", "z"}, windowStart))
	b := m.Fingerprint(testPattern(models.PatternDormantSurge, []string{"z", "x", "y"}, windowStart))

	if a != b {
		t.Error("expected identical fingerprints regardless of wallet order")
	}
}

func TestFingerprintSeparatesKindsAndBuckets(t *testing.T) {
	m, _ := newTestManager(&fakeNotifier{}, &fakeRepo{})

	windowStart := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	base := m.Fingerprint(testPattern(models.PatternDormantSurge, []string{"x"}, windowStart))
	otherKind := m.Fingerprint(testPattern(models.PatternValueConcentration, []string{"x"}, windowStart))
	otherBucket := m.Fingerprint(testPattern(models.PatternDormantSurge, []string{"x"}, windowStart.Add(time.Hour)))

	if base == otherKind {
		t.Error("expected distinct fingerprints across kinds")
	}
	if base == otherBucket {
		t.Error("expected distinct fingerprints across time buckets")
	}
}

func TestFailedDeliveryKeepsCooldownAndRecord(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	repo := &fakeRepo{}
	m, _ := newTestManager(notifier, repo)

	windowStart := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	p := testPattern(models.PatternCoordinatedMovement, []string{"a"}, windowStart)

	m.Handle(context.Background(), p)

	if len(repo.saved) != 1 {
		t.Fatalf("expected 1 saved record, got %d", len(repo.saved))
	}
	if repo.saved[0].Delivered {
		t.Error("expected record marked undelivered")
	}

	// A retry inside the cooldown stays suppressed even though delivery
	// failed.
	notifier.err = nil
	m.Handle(context.Background(), p)
	if len(notifier.sent) != 0 {
		t.Error("expected duplicate suppressed after failed delivery")
	}
}

func TestRestoreSeedsCooldowns(t *testing.T) {
	notifier := &fakeNotifier{}
	m, clock := newTestManager(notifier, &fakeRepo{})

	windowStart := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	p := testPattern(models.PatternDormantSurge, []string{"a", "b"}, windowStart)
	fp := m.Fingerprint(p)

	repo := &fakeRepo{active: []models.AlertRecord{{
		ID:            "prev",
		Fingerprint:   fp,
		Kind:          string(p.Kind),
		SentAt:        clock.Add(-5 * time.Minute),
		CooldownUntil: clock.Add(25 * time.Minute),
	}}}
	m.repo = repo

	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	m.Handle(context.Background(), p)
	if len(notifier.sent) != 0 {
		t.Fatalf("expected restored cooldown to suppress alert, got %d deliveries", len(notifier.sent))
	}
}
