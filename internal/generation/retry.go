package generation

import "time"

// maxCommitBackoff はコミット再試行の最大遅延。
const maxCommitBackoff = 2 * time.Second

// CalculateBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
// 初回はbase、2倍ずつ増加し、maxCommitBackoffで頭打ちになる。
func CalculateBackoff(attempt int, base time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxCommitBackoff {
			return maxCommitBackoff
		}
	}
	return delay
}
