// Package queuestats は待ち行列の滞留状況を定期的に集計するワーカーを提供する。
// 担当者未割り当ての会話数と最古の会話の待ち時間をゲージに反映する。
package queuestats

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StatsSource は待ち行列の統計を返すインターフェース。
// repository.ConversationRepositoryはこのインターフェースを満たす。
type StatsSource interface {
	PendingQueueStats(ctx context.Context) (count int, oldest *time.Time, err error)
}

// Gauge は集計結果を反映するインターフェース。
type Gauge interface {
	SetPendingQueue(depth int, oldestAge time.Duration)
}

// Sampler は待ち行列の統計を定期的に取得してゲージに反映する。
type Sampler struct {
	source StatsSource
	gauge  Gauge
	logger *slog.Logger
	now    func() time.Time
}

// NewSampler はSamplerの新しいインスタンスを生成する。
func NewSampler(source StatsSource, gauge Gauge, logger *slog.Logger) *Sampler {
	return &Sampler{
		source: source,
		gauge:  gauge,
		logger: logger,
		now:    time.Now,
	}
}

// Start は指定間隔のティッカーでサンプリングを行う。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sampler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("待ち行列サンプラーを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("待ち行列の集計に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("待ち行列サンプラーを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("待ち行列の集計に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は待ち行列の統計を1回取得し、ゲージに反映する。
// 失敗した場合はゲージを更新せず、直前の値を保持する。
func (s *Sampler) RunOnce(ctx context.Context) error {
	count, oldest, err := s.source.PendingQueueStats(ctx)
	if err != nil {
		return fmt.Errorf("待ち行列統計の取得に失敗: %w", err)
	}

	var age time.Duration
	if oldest != nil {
		age = s.now().Sub(*oldest)
		if age < 0 {
			age = 0
		}
	}
	s.gauge.SetPendingQueue(count, age)

	s.logger.Debug("待ち行列を集計しました",
		slog.Int("pending_count", count),
		slog.Duration("oldest_age", age),
	)
	return nil
}
