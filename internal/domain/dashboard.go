package domain

// MetricsSnapshot: накопительные метрики решений с момента старта (или с последнего
// авторитетного обновления с бэкенда). Не путать с DecisionStats, которые считаются по буферу.
type MetricsSnapshot struct {
	TotalDecisions int64   `json:"total_decisions"`
	AllowRate      float64 `json:"allow_rate"`
	BlockRate      float64 `json:"block_rate"`
	FlagRate       float64 `json:"flag_rate"`
	ActivePolicies int64   `json:"active_policies"`

	AllowCount int64 `json:"allow_count"`
	BlockCount int64 `json:"block_count"`
	FlagCount  int64 `json:"flag_count"`
}

// DecisionStats: доли решений по текущему содержимому буфера аудита.
type DecisionStats struct {
	Allow float64 `json:"allow"`
	Block float64 `json:"block"`
	Flag  float64 `json:"flag"`
}

// ConnectionState: состояние live-подписки на поток audit_logs.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "DISCONNECTED"
	ConnConnecting   ConnectionState = "CONNECTING"
	ConnConnected    ConnectionState = "CONNECTED"
)

// ApplyIncrementalMetricsUpdate применяет одно новое решение к снимку метрик.
//
// Пересчитывается только доля совпавшей корзины: rate' = (rate*total + 1) / total'.
// Доли остальных двух корзин не трогаются, поэтому после серии обновлений сумма
// долей может отличаться от 1.
// Неизвестное решение увеличивает только total.
func ApplyIncrementalMetricsUpdate(m MetricsSnapshot, d Decision) MetricsSnapshot {
	prev := float64(m.TotalDecisions)
	m.TotalDecisions++
	next := float64(m.TotalDecisions)

	switch d {
	case DecisionAllow:
		m.AllowRate = (m.AllowRate*prev + 1) / next
		m.AllowCount++
	case DecisionBlock:
		m.BlockRate = (m.BlockRate*prev + 1) / next
		m.BlockCount++
	case DecisionFlag:
		m.FlagRate = (m.FlagRate*prev + 1) / next
		m.FlagCount++
	}
	return m
}

// MetricsFromCounts собирает снимок из сырых COUNT-запросов (резервный путь refreshMetrics).
// При total == 0 все доли равны 0.
func MetricsFromCounts(total, allow, block, flag, activePolicies int64) MetricsSnapshot {
	m := MetricsSnapshot{
		TotalDecisions: total,
		ActivePolicies: activePolicies,
		AllowCount:     allow,
		BlockCount:     block,
		FlagCount:      flag,
	}
	if total > 0 {
		m.AllowRate = float64(allow) / float64(total)
		m.BlockRate = float64(block) / float64(total)
		m.FlagRate = float64(flag) / float64(total)
	}
	return m
}

// ComputeDecisionStats считает доли ALLOW/BLOCK/FLAG по переданным записям.
// Для пустого среза возвращает нули.
func ComputeDecisionStats(entries []AuditLogEntry) DecisionStats {
	if len(entries) == 0 {
		return DecisionStats{}
	}

	var allow, block, flag int
	for _, e := range entries {
		switch e.Decision {
		case DecisionAllow:
			allow++
		case DecisionBlock:
			block++
		case DecisionFlag:
			flag++
		}
	}

	n := float64(len(entries))
	return DecisionStats{
		Allow: float64(allow) / n,
		Block: float64(block) / n,
		Flag:  float64(flag) / n,
	}
}

// RecentBlocks: первые n записей с решением BLOCK в порядке entries (новые первыми).
func RecentBlocks(entries []AuditLogEntry, n int) []AuditLogEntry {
	out := make([]AuditLogEntry, 0, max(n, 0))
	for _, e := range entries {
		if len(out) >= n {
			break
		}
		if e.Decision == DecisionBlock {
			out = append(out, e)
		}
	}
	return out
}
