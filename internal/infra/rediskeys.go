package infra

import "fmt"

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "autonomo"
)

// Ключи для Sets (состояние)
const (
	RedisKeySuspendedUsers = RedisNamespace + ":users:suspended_set"

	// Блокировки, чтобы фоновые sweep'ы запускал только один инстанс
	RedisKeyLockPlanSweep        = RedisNamespace + ":lock:sweep:plans"
	RedisKeyLockIdempotencySweep = RedisNamespace + ":lock:sweep:idempotency"
	RedisKeyLockWarmupSuspended  = RedisNamespace + ":lock:warmup:suspended"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPlanEvents — трансляция решений по планам (формат "planID:STATUS")
	// для notification-коллаборатора и других инстансов шлюза.
	RedisChanPlanEvents = RedisNamespace + ":plans:events"

	// RedisChanSuspendSignal — сигнал включения/снятия блокировки аккаунта
	RedisChanSuspendSignal = RedisNamespace + ":users:suspend-signal"
)

// GetSweepLockKey — генератор ключей блокировок для динамических sweep'ов
func GetSweepLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:sweep:%s", RedisNamespace, resource)
}
