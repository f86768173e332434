package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "orchestraguard"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanAuditInsert: пайплайн перехвата публикует сюда каждую вставленную строку audit_logs (JSON).
	RedisChanAuditInsert = RedisNamespace + ":audit_logs:insert"
	// RedisChanPolicyUpdate: сигнал "refresh" движку после мутации политик.
	RedisChanPolicyUpdate = RedisNamespace + ":agents:policy-update"
)

// PgChanAuditInsert: канал LISTEN/NOTIFY, в который триггер на audit_logs шлет row_to_json(NEW).
const PgChanAuditInsert = "audit_logs_insert"
