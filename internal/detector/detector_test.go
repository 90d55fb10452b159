package detector

import (
	"fmt"
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

func testConfig() config.DetectorConfig {
	return config.DetectorConfig{
		DormancyThresholdDays: 365,
		ActivityWindow:        30 * time.Minute,
		MinWallets:            5,
		ValueThresholdBTC:     100,
		SimilarityThreshold:   0.1,
		ZScoreThreshold:       3.0,
		ZScoreCriticalLevel:   4.0,
		StatWindowSamples:     144,
		EventRetention:        24 * time.Hour,
	}
}

func event(addr string, at time.Time, amountBTC float64, dormancyDays int) models.ActivityEvent {
	return models.ActivityEvent{
		Address:             addr,
		TxID:                fmt.Sprintf("tx-%s-%d", addr, at.UnixNano()),
		BlockHeight:         850000,
		AmountSats:          int64(amountBTC * models.SatoshisPerBTC),
		ObservedAt:          at,
		DormancyDaysAtEvent: dormancyDays,
		Direction:           "out",
	}
}

func findPattern(patterns []models.EmergencyPattern, kind models.PatternKind) *models.EmergencyPattern {
	for i := range patterns {
		if patterns[i].Kind == kind {
			return &patterns[i]
		}
	}
	return nil
}

func TestDormantSurgeFiresAtThreshold(t *testing.T) {
	d := New(testConfig(), nil)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	var batch []models.ActivityEvent
	for i := 0; i < 5; i++ {
		batch = append(batch, event(fmt.Sprintf("addr%d", i), base.Add(time.Duration(i)*time.Minute), 10, 400))
	}

	patterns := d.Evaluate(batch)
	surges := 0
	for _, p := range patterns {
		if p.Kind == models.PatternDormantSurge {
			surges++
		}
	}
	if surges != 1 {
		t.Fatalf("expected exactly one dormant surge pattern, got %d", surges)
	}
	p := findPattern(patterns, models.PatternDormantSurge)
	if p.Score != 80 {
		t.Errorf("expected score 80, got %v", p.Score)
	}
	if p.Severity != models.SeverityCritical {
		t.Errorf("expected CRITICAL severity, got %s", p.Severity)
	}
	if len(p.WalletAddresses) != 5 {
		t.Errorf("expected 5 wallets, got %d", len(p.WalletAddresses))
	}
}

func TestDormantSurgeNeedsMinWallets(t *testing.T) {
	d := New(testConfig(), nil)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	var batch []models.ActivityEvent
	for i := 0; i < 4; i++ {
		batch = append(batch, event(fmt.Sprintf("addr%d", i), base, 10, 400))
	}

	if p := findPattern(d.Evaluate(batch), models.PatternDormantSurge); p != nil {
		t.Fatalf("unexpected dormant surge with 4 wallets: %+v", p)
	}
}

// Activity windows are fixed clock-aligned buckets, so wallets split across a
// bucket edge are counted per bucket, not as one sliding group.
func TestDormantSurgeSplitAcrossBucketEdge(t *testing.T) {
	d := New(testConfig(), nil)
	edge := time.Date(2026, 1, 10, 12, 30, 0, 0, time.UTC)

	var batch []models.ActivityEvent
	for i, offset := range []time.Duration{
		-5 * time.Minute, -3 * time.Minute, -1 * time.Minute,
		1 * time.Minute, 3 * time.Minute,
	} {
		batch = append(batch, event(fmt.Sprintf("addr%d", i), edge.Add(offset), 10, 400))
	}

	if p := findPattern(d.Evaluate(batch), models.PatternDormantSurge); p != nil {
		t.Fatalf("5 wallets split 3/2 across a window edge must not surge: %+v", p)
	}
}

func TestDormantSurgeIgnoresRecentActivity(t *testing.T) {
	d := New(testConfig(), nil)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	var batch []models.ActivityEvent
	for i := 0; i < 6; i++ {
		batch = append(batch, event(fmt.Sprintf("addr%d", i), base, 10, 30))
	}

	if p := findPattern(d.Evaluate(batch), models.PatternDormantSurge); p != nil {
		t.Fatalf("unexpected dormant surge from non-dormant wallets: %+v", p)
	}
}

func TestCoordinatedMovementDetectsUniformity(t *testing.T) {
	d := New(testConfig(), nil)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	var batch []models.ActivityEvent
	for i := 0; i < 5; i++ {
		batch = append(batch, event(fmt.Sprintf("addr%d", i), base.Add(10*time.Minute), 2, 30))
	}

	p := findPattern(d.Evaluate(batch), models.PatternCoordinatedMovement)
	if p == nil {
		t.Fatal("expected coordinated movement pattern")
	}
	if len(p.WalletAddresses) != 5 {
		t.Errorf("expected 5 wallets, got %d", len(p.WalletAddresses))
	}
}

func TestCoordinatedMovementRejectsDispersedAmounts(t *testing.T) {
	d := New(testConfig(), nil)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	amounts := []float64{1, 5, 12, 30, 70}
	var batch []models.ActivityEvent
	for i, a := range amounts {
		batch = append(batch, event(fmt.Sprintf("addr%d", i), base.Add(10*time.Minute), a, 30))
	}

	if p := findPattern(d.Evaluate(batch), models.PatternCoordinatedMovement); p != nil {
		t.Fatalf("unexpected coordinated movement on dispersed amounts: %+v", p)
	}
}

func TestValueConcentrationFiresOverThreshold(t *testing.T) {
	d := New(testConfig(), nil)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	batch := []models.ActivityEvent{
		event("addr0", base, 60, 10),
		event("addr1", base.Add(time.Minute), 50, 10),
		event("addr2", base.Add(2*time.Minute), 40, 10),
	}

	p := findPattern(d.Evaluate(batch), models.PatternValueConcentration)
	if p == nil {
		t.Fatal("expected value concentration pattern")
	}
	if got := models.ToFloat64(p.TotalValueBTC); got != 150 {
		t.Errorf("expected 150 BTC total, got %v", got)
	}
}

func TestValueConcentrationBelowThreshold(t *testing.T) {
	d := New(testConfig(), nil)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	batch := []models.ActivityEvent{
		event("addr0", base, 30, 10),
		event("addr1", base.Add(time.Minute), 30, 10),
	}

	if p := findPattern(d.Evaluate(batch), models.PatternValueConcentration); p != nil {
		t.Fatalf("unexpected value concentration below threshold: %+v", p)
	}
}

func TestStatisticalAnomalyScoresAgainstHistory(t *testing.T) {
	d := New(testConfig(), nil)
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	// Alternating 8 and 12 BTC: mean 10, tight spread. Buckets are spaced an
	// hour apart so no windowed signal interferes.
	for i := 0; i < 12; i++ {
		amount := 8.0
		if i%2 == 1 {
			amount = 12.0
		}
		d.Evaluate([]models.ActivityEvent{event("whale", base.Add(time.Duration(i)*time.Hour), amount, 30)})
	}

	patterns := d.Evaluate([]models.ActivityEvent{event("whale", base.Add(13*time.Hour), 20, 30)})
	p := findPattern(patterns, models.PatternStatisticalAnomaly)
	if p == nil {
		t.Fatal("expected statistical anomaly pattern")
	}
	if p.Severity != models.SeverityHigh {
		t.Errorf("expected HIGH severity, got %s", p.Severity)
	}
	if len(p.WalletAddresses) != 1 || p.WalletAddresses[0] != "whale" {
		t.Errorf("unexpected wallet list: %v", p.WalletAddresses)
	}
}

func TestStatisticalAnomalyNeedsHistory(t *testing.T) {
	d := New(testConfig(), nil)
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		d.Evaluate([]models.ActivityEvent{event("whale", base.Add(time.Duration(i)*time.Hour), 10, 30)})
	}

	patterns := d.Evaluate([]models.ActivityEvent{event("whale", base.Add(6*time.Hour), 500, 30)})
	if p := findPattern(patterns, models.PatternStatisticalAnomaly); p != nil {
		t.Fatalf("unexpected anomaly with thin history: %+v", p)
	}
}

func TestWindowEvictsOldEvents(t *testing.T) {
	d := New(testConfig(), nil)
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	// Three dormant wallets early, three more 25 hours later: the first batch
	// must have aged out, so no surge forms.
	var early []models.ActivityEvent
	for i := 0; i < 3; i++ {
		early = append(early, event(fmt.Sprintf("old%d", i), base, 10, 400))
	}
	d.Evaluate(early)

	late := base.Add(25 * time.Hour)
	var batch []models.ActivityEvent
	for i := 0; i < 3; i++ {
		batch = append(batch, event(fmt.Sprintf("new%d", i), late, 10, 400))
	}

	if p := findPattern(d.Evaluate(batch), models.PatternDormantSurge); p != nil {
		t.Fatalf("unexpected surge across evicted window: %+v", p)
	}
	if d.window.len() != 3 {
		t.Errorf("expected 3 retained events, got %d", d.window.len())
	}
}
