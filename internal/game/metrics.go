package game

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики игрового цикла. Лейбл world разделяет миры одного процесса.
var (
	metricTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mmo_tick_duration_seconds",
		Help:    "Длительность одного тика мира",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"world"})

	metricResidentChunks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mmo_resident_chunks",
		Help: "Количество резидентных чанков мира",
	}, []string{"world"})

	metricConnectedPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mmo_connected_players",
		Help: "Количество активных соединений мира",
	}, []string{"world"})

	metricSnapshotsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmo_snapshots_sent_total",
		Help: "Количество успешно отправленных снапшотов",
	}, []string{"world"})

	metricComponentUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmo_component_updates_total",
		Help: "Количество переходов компонентов, собранных трекерами за тики",
	}, []string{"world"})

	metricPersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmo_persistence_errors_total",
		Help: "Количество ошибок персистентности (операция повторится на следующем тике)",
	}, []string{"world"})
)
