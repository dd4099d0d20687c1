package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestDeliveryLog(t *testing.T, repo *memorySMSLogRepo, now time.Time) (*DeliveryLog, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	d, err := NewDeliveryLog(repo, 0, zap.New(core))
	if err != nil {
		t.Fatalf("NewDeliveryLog() error = %v", err)
	}
	d.now = func() time.Time { return now }
	return d, logs
}

func sentAttempt(id, messageID string) SendAttempt {
	return SendAttempt{
		ID:      id,
		Message: otpMessage(),
		Result: domain.SendResult{
			Success:   true,
			Provider:  "smso",
			MessageID: messageID,
			Status:    domain.SendStatusSent,
			Cost:      0.05,
			Currency:  "RON",
			Parts:     1,
		},
	}
}

func TestDeliveryLogRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemorySMSLogRepo()
	d, _ := newTestDeliveryLog(t, repo, now)

	rec, err := d.Record(context.Background(), sentAttempt("log-1", "msg-1"))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if rec.RecipientMasked != "+*******3456" {
		t.Fatalf("RecipientMasked = %q", rec.RecipientMasked)
	}
	if rec.Recipient != "+40722123456" {
		t.Fatalf("Recipient = %q", rec.Recipient)
	}
	if rec.Status != domain.DeliverySent {
		t.Fatalf("Status = %s, want sent", rec.Status)
	}
	if rec.SentAt == nil || !rec.SentAt.Equal(now) {
		t.Fatalf("SentAt = %v, want %s", rec.SentAt, now)
	}
	if want := now.Add(90 * 24 * time.Hour); !rec.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %s, want %s", rec.ExpiresAt, want)
	}
}

func TestDeliveryLogRecordIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newMemorySMSLogRepo()
	d, _ := newTestDeliveryLog(t, repo, time.Now())
	ctx := context.Background()

	first, err := d.Record(ctx, sentAttempt("log-1", "msg-1"))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	second, err := d.Record(ctx, sentAttempt("log-1", "msg-other"))
	if err != nil {
		t.Fatalf("second Record() error = %v", err)
	}

	if second.ProviderMessageID != first.ProviderMessageID {
		t.Fatalf("second record = %+v, want stored row", second)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(repo.rows))
	}
}

func TestDeliveryLogRecordFailure(t *testing.T) {
	t.Parallel()

	repo := newMemorySMSLogRepo()
	d, _ := newTestDeliveryLog(t, repo, time.Now())

	result := domain.FailedSend(domain.CodeInsufficientCredit, "no credit")
	result.Provider = "smso"
	rec, err := d.Record(context.Background(), SendAttempt{Message: otpMessage(), Result: result})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected generated id")
	}
	if rec.Status != domain.DeliveryFailed || rec.ErrorCode != "INSUFFICIENT_CREDIT" || rec.SentAt != nil {
		t.Fatalf("record = %+v", rec)
	}
}

func TestDeliveryLogUpdateStatusComputesLatency(t *testing.T) {
	t.Parallel()

	sentAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemorySMSLogRepo()
	d, _ := newTestDeliveryLog(t, repo, sentAt)
	ctx := context.Background()

	if _, err := d.Record(ctx, sentAttempt("log-1", "msg-1")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	deliveredAt := sentAt.Add(4 * time.Second)
	applied, err := d.UpdateStatus(ctx, "smso", domain.DeliveryStatus{
		MessageID:   "msg-1",
		Status:      domain.DeliveryDelivered,
		DeliveredAt: &deliveredAt,
	})
	if err != nil || !applied {
		t.Fatalf("UpdateStatus() = %v, %v, want applied", applied, err)
	}

	row := repo.get("log-1")
	if row.Status != domain.DeliveryDelivered {
		t.Fatalf("status = %s, want delivered", row.Status)
	}
	if row.LatencySeconds == nil || *row.LatencySeconds != 4 {
		t.Fatalf("latency = %v, want 4", row.LatencySeconds)
	}
}

func TestDeliveryLogTerminalStatusIsNeverRegressed(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemorySMSLogRepo()
	d, logs := newTestDeliveryLog(t, repo, now)
	ctx := context.Background()

	if _, err := d.Record(ctx, sentAttempt("log-1", "msg-1")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if applied, err := d.UpdateStatus(ctx, "smso", domain.DeliveryStatus{MessageID: "msg-1", Status: domain.DeliveryDelivered}); err != nil || !applied {
		t.Fatalf("UpdateStatus(delivered) = %v, %v", applied, err)
	}

	for _, late := range []domain.DeliveryState{domain.DeliverySent, domain.DeliveryPending, domain.DeliveryUnknown} {
		applied, err := d.UpdateStatus(ctx, "smso", domain.DeliveryStatus{MessageID: "msg-1", Status: late})
		if err != nil {
			t.Fatalf("UpdateStatus(%s) error = %v", late, err)
		}
		if applied {
			t.Fatalf("UpdateStatus(%s) applied over delivered", late)
		}
	}

	if got := repo.get("log-1").Status; got != domain.DeliveryDelivered {
		t.Fatalf("status = %s, want delivered", got)
	}
	if logs.FilterMessage("delivery status transition dropped").Len() != 3 {
		t.Fatalf("expected three dropped-transition log entries, got %d", logs.FilterMessage("delivery status transition dropped").Len())
	}

	// Terminal to terminal is last-write-wins.
	applied, err := d.UpdateStatus(ctx, "smso", domain.DeliveryStatus{MessageID: "msg-1", Status: domain.DeliveryFailed, ErrorCode: "30008"})
	if err != nil || !applied {
		t.Fatalf("UpdateStatus(failed) = %v, %v", applied, err)
	}
	if got := repo.get("log-1"); got.Status != domain.DeliveryFailed || got.ErrorCode != "30008" {
		t.Fatalf("row = %+v, want failed with vendor code", got)
	}
}

func TestDeliveryLogRepositoryGuardWinsRace(t *testing.T) {
	t.Parallel()

	repo := newMemorySMSLogRepo()
	d, _ := newTestDeliveryLog(t, repo, time.Now())
	ctx := context.Background()

	rec, err := d.Record(ctx, sentAttempt("log-1", "msg-1"))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	// A concurrent writer made the row terminal after rec was loaded.
	repo.rows["log-1"] = func() domain.DeliveryLogRecord {
		r := repo.rows["log-1"]
		r.Status = domain.DeliveryExpired
		return r
	}()

	applied, err := d.Apply(ctx, rec, domain.DeliveryStatus{MessageID: "msg-1", Status: domain.DeliverySent})
	if err != nil || applied {
		t.Fatalf("Apply() = %v, %v, want dropped", applied, err)
	}
	if got := repo.get("log-1").Status; got != domain.DeliveryExpired {
		t.Fatalf("status = %s, want expired", got)
	}
}

func TestDeliveryLogUpdateStatusUnknownMessage(t *testing.T) {
	t.Parallel()

	repo := newMemorySMSLogRepo()
	d, logs := newTestDeliveryLog(t, repo, time.Now())

	applied, err := d.UpdateStatus(context.Background(), "smso", domain.DeliveryStatus{MessageID: "nope", Status: domain.DeliveryDelivered})
	if err != nil || applied {
		t.Fatalf("UpdateStatus() = %v, %v, want dropped without error", applied, err)
	}
	if logs.FilterMessage("delivery report for unknown message dropped").Len() != 1 {
		t.Fatal("expected unknown message warning")
	}

	if _, err := d.UpdateStatus(context.Background(), "smso", domain.DeliveryStatus{Status: domain.DeliveryDelivered}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestDeliveryLogPurgeRemovesExpiredInBatches(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemorySMSLogRepo()
	d, _ := newTestDeliveryLog(t, repo, now)

	for i, expires := range []time.Time{now.Add(-48 * time.Hour), now.Add(-time.Hour), now.Add(-time.Minute), now.Add(time.Hour)} {
		id := string(rune('a' + i))
		repo.rows[id] = domain.DeliveryLogRecord{ID: id, ExpiresAt: expires}
	}

	deleted, err := d.Purge(context.Background(), 2)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if deleted != 3 {
		t.Fatalf("deleted = %d, want 3", deleted)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("remaining rows = %d, want 1", len(repo.rows))
	}
}

func TestDeliveryLogStatisticsRejectsInvertedRange(t *testing.T) {
	t.Parallel()

	d, _ := newTestDeliveryLog(t, newMemorySMSLogRepo(), time.Now())
	from := time.Now()
	to := from.Add(-time.Hour)

	if _, err := d.Statistics(context.Background(), domain.StatsFilter{From: &from, To: &to}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestDeliveryLogDuplicateDeliveredReportKeepsFirstTimestamp(t *testing.T) {
	t.Parallel()

	sentAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemorySMSLogRepo()
	d, _ := newTestDeliveryLog(t, repo, sentAt)
	ctx := context.Background()

	if _, err := d.Record(ctx, sentAttempt("log-1", "msg-1")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	first := sentAt.Add(5 * time.Second)
	if applied, err := d.UpdateStatus(ctx, "smso", domain.DeliveryStatus{MessageID: "msg-1", Status: domain.DeliveryDelivered, DeliveredAt: &first}); err != nil || !applied {
		t.Fatalf("UpdateStatus() = %v, %v, want applied", applied, err)
	}

	redelivered := sentAt.Add(time.Hour + 5*time.Second)
	applied, err := d.UpdateStatus(ctx, "smso", domain.DeliveryStatus{MessageID: "msg-1", Status: domain.DeliveryDelivered, DeliveredAt: &redelivered})
	if err != nil {
		t.Fatalf("second UpdateStatus() error = %v", err)
	}
	if applied {
		t.Fatal("duplicate delivered report was applied")
	}

	row := repo.get("log-1")
	if row.DeliveredAt == nil || !row.DeliveredAt.Equal(first) {
		t.Fatalf("DeliveredAt = %v, want %s", row.DeliveredAt, first)
	}
	if row.LatencySeconds == nil || *row.LatencySeconds != 5 {
		t.Fatalf("latency = %v, want 5", row.LatencySeconds)
	}
	if len(repo.applied) != 1 {
		t.Fatalf("repository updates = %d, want 1", len(repo.applied))
	}
}
