package service

import "github.com/xela07ax/orchestraguard-console/internal/domain"

// auditBuffer: записи аудита, новые первыми, не больше limit.
// Не потокобезопасен: доступ только под мьютексом Aggregator.
type auditBuffer struct {
	entries []domain.AuditLogEntry
	limit   int
}

func newAuditBuffer(limit int) *auditBuffer {
	return &auditBuffer{
		entries: make([]domain.AuditLogEntry, 0, limit),
		limit:   limit,
	}
}

// replace подменяет содержимое целиком, лишний хвост отбрасывается.
func (b *auditBuffer) replace(entries []domain.AuditLogEntry) {
	n := min(len(entries), b.limit)
	b.entries = append(b.entries[:0], entries[:n]...)
}

// prepend ставит запись в голову, самая старая вытесняется при переполнении.
func (b *auditBuffer) prepend(e domain.AuditLogEntry) {
	if len(b.entries) < b.limit {
		b.entries = append(b.entries, domain.AuditLogEntry{})
	}
	copy(b.entries[1:], b.entries[:len(b.entries)-1])
	b.entries[0] = e
}

func (b *auditBuffer) size() int {
	return len(b.entries)
}

// snapshot: копия, которую можно отдавать наружу.
func (b *auditBuffer) snapshot() []domain.AuditLogEntry {
	out := make([]domain.AuditLogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// blocks: первые n записей с решением BLOCK в порядке буфера.
func (b *auditBuffer) blocks(n int) []domain.AuditLogEntry {
	return domain.RecentBlocks(b.entries, n)
}
