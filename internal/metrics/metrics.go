package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// счетчики слоя персистентности
var (
	SaveAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutch_save_attempts_total",
		Help: "Сколько раз координатор сохранения начинал попытку записи.",
	})
	SaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutch_save_failures_total",
		Help: "Сохранения, исчерпавшие все бэкенды и ретраи.",
	})
	EmergencySaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutch_emergency_saves_total",
		Help: "Аварийные записи в зарезервированный ключ.",
	})
	SessionsResumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutch_sessions_resumed_total",
		Help: "Успешно восстановленные при загрузке сессии.",
	})
	StaleDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutch_stale_snapshots_discarded_total",
		Help: "Снапшоты старше окна хранения, отброшенные при загрузке.",
	})
	CorruptDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutch_corrupt_snapshots_discarded_total",
		Help: "Битые снапшоты, удаленные при загрузке.",
	})
)
