package api

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// Системные метрики процесса.
var (
	metricCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mmo_process_cpu_percent",
		Help: "Загрузка CPU процессом сервера",
	})
	metricRSSBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mmo_process_rss_bytes",
		Help: "Резидентная память процесса сервера",
	})
)

// MetricsExporter отдаёт метрики Prometheus и периодически обновляет
// системные датчики через gopsutil.
type MetricsExporter struct {
	srv  *http.Server
	stop chan struct{}
}

// NewMetricsExporter создаёт экспортер.
func NewMetricsExporter() *MetricsExporter {
	return &MetricsExporter{stop: make(chan struct{})}
}

// Start запускает HTTP endpoint /metrics и цикл системных датчиков.
func (m *MetricsExporter) Start(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.srv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Экспортер метрик завершился с ошибкой: %v", err)
		}
	}()
	go m.sampleLoop()
	logging.Info("Prometheus метрики на :%d/metrics", port)
}

// Stop останавливает экспортер.
func (m *MetricsExporter) Stop() {
	close(m.stop)
	if m.srv != nil {
		m.srv.Close()
	}
}

// sampleLoop обновляет системные датчики раз в 15 секунд.
func (m *MetricsExporter) sampleLoop() {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logging.Warn("gopsutil недоступен: %v", err)
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if cpu, err := proc.CPUPercent(); err == nil {
				metricCPUPercent.Set(cpu)
			}
			if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
				metricRSSBytes.Set(float64(mem.RSS))
			}
		}
	}
}
