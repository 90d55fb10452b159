package detector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/satoshis-endgame/sentinel/internal/adapters/config"
	"github.com/satoshis-endgame/sentinel/pkg/logger"
	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// PatternSink receives detector findings.
type PatternSink interface {
	Handle(ctx context.Context, pattern models.EmergencyPattern)
}

// minStatSamples is the smallest per-address history the statistical detector
// will score against.
const minStatSamples = 12

// Detector consumes committed activity events and evaluates emergency
// patterns over a sliding window. Evaluation runs on a single goroutine; the
// monitor hands off batches through Publish.
type Detector struct {
	cfg  config.DetectorConfig
	sink PatternSink

	batches chan []models.ActivityEvent

	window  *eventWindow
	volumes map[string]*volumeRing
}

// New creates a detector wired to the given pattern sink.
func New(cfg config.DetectorConfig, sink PatternSink) *Detector {
	return &Detector{
		cfg:     cfg,
		sink:    sink,
		batches: make(chan []models.ActivityEvent, 64),
		window:  newEventWindow(cfg.EventRetention),
		volumes: make(map[string]*volumeRing),
	}
}

// Publish hands a committed batch to the evaluation loop. Dropping under
// backpressure is acceptable: the events are already durable and the next
// block's evaluation sees the same window.
func (d *Detector) Publish(events []models.ActivityEvent) {
	if len(events) == 0 {
		return
	}
	select {
	case d.batches <- events:
	default:
		logger.Warn("detector backlog full, dropping batch", zap.Int("events", len(events)))
	}
}

// Run drives the evaluation loop until the context is cancelled.
func (d *Detector) Run(ctx context.Context) {
	logger.Info("pattern detector started",
		zap.Duration("activity_window", d.cfg.ActivityWindow),
		zap.Int("min_wallets", d.cfg.MinWallets),
		zap.Int("dormancy_threshold_days", d.cfg.DormancyThresholdDays))

	for {
		select {
		case <-ctx.Done():
			logger.Info("pattern detector stopped")
			return
		case batch := <-d.batches:
			for _, p := range d.Evaluate(batch) {
				d.sink.Handle(ctx, p)
			}
		}
	}
}

// Evaluate folds one batch into the sliding window and returns every pattern
// the window now exhibits. Safe only from the evaluation goroutine.
func (d *Detector) Evaluate(batch []models.ActivityEvent) []models.EmergencyPattern {
	if len(batch) == 0 {
		return nil
	}

	var patterns []models.EmergencyPattern

	now := batch[0].ObservedAt
	for _, ev := range batch {
		if ev.ObservedAt.After(now) {
			now = ev.ObservedAt
		}
		if p := d.checkStatisticalAnomaly(ev); p != nil {
			patterns = append(patterns, *p)
		}
		d.recordVolume(ev)
		d.window.add(ev)
	}
	d.window.evict(now)

	for _, bucket := range d.touchedBuckets(batch) {
		events := d.bucketEvents(bucket)
		if p := d.checkDormantSurge(bucket, events); p != nil {
			patterns = append(patterns, *p)
		}
		if p := d.checkCoordinatedMovement(bucket, events); p != nil {
			patterns = append(patterns, *p)
		}
		if p := d.checkValueConcentration(bucket, events); p != nil {
			patterns = append(patterns, *p)
		}
	}

	return patterns
}

// touchedBuckets returns the activity-window bucket starts the batch falls
// into, oldest first.
func (d *Detector) touchedBuckets(batch []models.ActivityEvent) []time.Time {
	seen := make(map[time.Time]struct{})
	var buckets []time.Time
	for _, ev := range batch {
		b := ev.ObservedAt.Truncate(d.cfg.ActivityWindow)
		if _, ok := seen[b]; !ok {
			seen[b] = struct{}{}
			buckets = append(buckets, b)
		}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })
	return buckets
}

func (d *Detector) bucketEvents(start time.Time) []models.ActivityEvent {
	end := start.Add(d.cfg.ActivityWindow)
	var out []models.ActivityEvent
	for _, ev := range d.window.snapshot() {
		if !ev.ObservedAt.Before(start) && ev.ObservedAt.Before(end) {
			out = append(out, ev)
		}
	}
	return out
}

func (d *Detector) recordVolume(ev models.ActivityEvent) {
	ring, ok := d.volumes[ev.Address]
	if !ok {
		ring = newVolumeRing(d.cfg.StatWindowSamples)
		d.volumes[ev.Address] = ring
	}
	ring.push(btc(ev.AmountSats))
}

// checkDormantSurge fires when enough long-dormant wallets wake inside one
// activity window.
func (d *Detector) checkDormantSurge(bucket time.Time, events []models.ActivityEvent) *models.EmergencyPattern {
	var dormant []models.ActivityEvent
	for _, ev := range events {
		if ev.DormancyDaysAtEvent >= d.cfg.DormancyThresholdDays {
			dormant = append(dormant, ev)
		}
	}

	addrs := distinctAddresses(dormant)
	if len(addrs) < d.cfg.MinWallets {
		return nil
	}

	totalBTC := totalVolumeBTC(dormant)
	avgDormancy := averageDormancy(dormant)
	score := d.compositeScore(len(addrs), totalBTC, avgDormancy)

	logger.Warn("dormant wallet surge detected",
		zap.Int("wallets", len(addrs)),
		zap.Float64("total_btc", totalBTC),
		zap.Float64("avg_dormancy_days", avgDormancy),
		zap.Float64("score", score))

	return d.newPattern(models.PatternDormantSurge, bucket, addrs, totalBTC, score,
		fmt.Sprintf("%d dormant wallets active, avg dormancy %.0f days", len(addrs), avgDormancy))
}

// checkCoordinatedMovement fires when many wallets move near-identical
// amounts on near-identical timing inside one activity window.
func (d *Detector) checkCoordinatedMovement(bucket time.Time, events []models.ActivityEvent) *models.EmergencyPattern {
	addrs := distinctAddresses(events)
	if len(addrs) < d.cfg.MinWallets {
		return nil
	}

	amounts := make([]float64, 0, len(events))
	offsets := make([]float64, 0, len(events))
	for _, ev := range events {
		amounts = append(amounts, btc(ev.AmountSats))
		offsets = append(offsets, ev.ObservedAt.Sub(bucket).Seconds())
	}

	amountCV := coefficientOfVariation(amounts)
	timingCV := coefficientOfVariation(offsets)
	if amountCV >= d.cfg.SimilarityThreshold || timingCV >= d.cfg.SimilarityThreshold {
		return nil
	}

	totalBTC := totalVolumeBTC(events)
	score := d.compositeScore(len(addrs), totalBTC, averageDormancy(events))

	logger.Warn("coordinated movement detected",
		zap.Int("wallets", len(addrs)),
		zap.Float64("amount_cv", amountCV),
		zap.Float64("timing_cv", timingCV),
		zap.Float64("score", score))

	return d.newPattern(models.PatternCoordinatedMovement, bucket, addrs, totalBTC, score,
		fmt.Sprintf("amount CV %.3f, timing CV %.3f across %d wallets", amountCV, timingCV, len(addrs)))
}

// checkValueConcentration fires when the window's total moved value crosses
// the configured BTC threshold.
func (d *Detector) checkValueConcentration(bucket time.Time, events []models.ActivityEvent) *models.EmergencyPattern {
	totalBTC := totalVolumeBTC(events)
	if totalBTC < d.cfg.ValueThresholdBTC {
		return nil
	}

	addrs := distinctAddresses(events)
	score := d.compositeScore(len(addrs), totalBTC, averageDormancy(events))

	logger.Warn("value concentration detected",
		zap.Float64("total_btc", totalBTC),
		zap.Int("wallets", len(addrs)),
		zap.Float64("score", score))

	return d.newPattern(models.PatternValueConcentration, bucket, addrs, totalBTC, score,
		fmt.Sprintf("%.4f BTC moved inside one window", totalBTC))
}

// checkStatisticalAnomaly scores one event's volume against that address's
// recent history. The current event is excluded from its own baseline.
func (d *Detector) checkStatisticalAnomaly(ev models.ActivityEvent) *models.EmergencyPattern {
	ring, ok := d.volumes[ev.Address]
	if !ok || len(ring.history()) < minStatSamples {
		return nil
	}

	z := zScore(btc(ev.AmountSats), ring.history())
	if math.Abs(z) <= d.cfg.ZScoreThreshold {
		return nil
	}

	severity := models.SeverityMedium
	if math.Abs(z) > d.cfg.ZScoreCriticalLevel {
		severity = models.SeverityHigh
	}
	score := math.Min(math.Abs(z)*15, 100)

	logger.Warn("statistical anomaly detected",
		zap.String("address", ev.Address),
		zap.Float64("z_score", z),
		zap.Float64("amount_btc", btc(ev.AmountSats)))

	bucket := ev.ObservedAt.Truncate(d.cfg.ActivityWindow)
	p := models.EmergencyPattern{
		Kind:            models.PatternStatisticalAnomaly,
		Severity:        severity,
		Score:           score,
		WalletAddresses: []string{ev.Address},
		TotalValueBTC:   models.SatsToBTC(ev.AmountSats),
		WindowStart:     bucket,
		WindowEnd:       bucket.Add(d.cfg.ActivityWindow),
		Details:         fmt.Sprintf("volume z-score %.2f over %d samples", z, len(ring.history())),
	}
	return &p
}

// compositeScore combines wallet count, total value and average dormancy into
// a 0-100 score. Each factor saturates at its configured threshold.
func (d *Detector) compositeScore(wallets int, totalBTC, avgDormancyDays float64) float64 {
	score := math.Min(float64(wallets)/float64(d.cfg.MinWallets), 1)*40 +
		math.Min(totalBTC/d.cfg.ValueThresholdBTC, 1)*40 +
		math.Min(avgDormancyDays/float64(d.cfg.DormancyThresholdDays), 1)*20
	return math.Min(score, 100)
}

func (d *Detector) newPattern(kind models.PatternKind, bucket time.Time, addrs []string, totalBTC, score float64, details string) *models.EmergencyPattern {
	return &models.EmergencyPattern{
		Kind:            kind,
		Severity:        models.SeverityForScore(score),
		Score:           score,
		WalletAddresses: addrs,
		TotalValueBTC:   models.NewDecimal(totalBTC),
		WindowStart:     bucket,
		WindowEnd:       bucket.Add(d.cfg.ActivityWindow),
		Details:         details,
	}
}

func btc(sats int64) float64 {
	return float64(sats) / models.SatoshisPerBTC
}

func distinctAddresses(events []models.ActivityEvent) []string {
	seen := make(map[string]struct{}, len(events))
	var addrs []string
	for _, ev := range events {
		if _, ok := seen[ev.Address]; !ok {
			seen[ev.Address] = struct{}{}
			addrs = append(addrs, ev.Address)
		}
	}
	sort.Strings(addrs)
	return addrs
}

func totalVolumeBTC(events []models.ActivityEvent) float64 {
	var total int64
	for _, ev := range events {
		total += ev.AmountSats
	}
	return btc(total)
}

func averageDormancy(events []models.ActivityEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	var sum float64
	for _, ev := range events {
		sum += float64(ev.DormancyDaysAtEvent)
	}
	return sum / float64(len(events))
}
