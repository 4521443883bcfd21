// Package cleanup は冪等キーの自動消去ジョブを提供する。
// 保持期間（デフォルト24時間）を超過したメッセージの冪等キーを
// 定期バッチで消去する。メッセージ本体は削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultKeyTTL は冪等キーのデフォルト保持期間。
const DefaultKeyTTL = 24 * time.Hour

// KeyClearer は指定時刻より前に作成されたメッセージの冪等キーを消去するインターフェース。
// repository.MessageRepositoryはこのインターフェースを満たす。
type KeyClearer interface {
	ClearIdempotencyKeysBefore(ctx context.Context, before time.Time) (int64, error)
}

// Recorder は消去件数を記録するインターフェース。
type Recorder interface {
	RecordIdempotencyKeysCleared(count int64)
}

// CleanupJob は保持期間を超過した冪等キーの消去ジョブ。
// キーの消去は冪等で、同じ時刻に複数回実行しても結果は変わらない。
type CleanupJob struct {
	clearer  KeyClearer
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	KeyTTL   time.Duration // 冪等キーの保持期間（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderにはnilを指定できる。
func NewCleanupJob(clearer KeyClearer, recorder Recorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		clearer:  clearer,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		KeyTTL:   DefaultKeyTTL,
	}
}

// Run は保持期間を超過した冪等キーを消去する。
// 消去対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := j.now().Add(-j.KeyTTL)

	cleared, err := j.clearer.ClearIdempotencyKeysBefore(ctx, before)
	if err != nil {
		j.logger.Error("冪等キー消去ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("key_ttl", j.KeyTTL),
		)
		return fmt.Errorf("冪等キーの消去に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordIdempotencyKeysCleared(cleared)
	}

	duration := time.Since(start)
	j.logger.Info("冪等キー消去ジョブが完了しました",
		slog.Int64("cleared_count", cleared),
		slog.Duration("key_ttl", j.KeyTTL),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔でRunを繰り返す。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Runは失敗をログに記録済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("冪等キー消去ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
