// Package metrics defines the Prometheus metrics exported by pms7003d.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pms7003 "github.com/luhtfiimanal/go-pms7003"
)

// Read results used as the "result" label of pms7003_reads_total.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
)

// FieldNames are the "field" label values of pms7003_reading, in wire order.
var FieldNames = [12]string{
	"pm1_0_standard", "pm2_5_standard", "pm10_standard",
	"pm1_0", "pm2_5", "pm10",
	"count_0_3", "count_0_5", "count_1_0", "count_2_5", "count_5_0", "count_10",
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// SensorMetrics tracks the read loop.
type SensorMetrics struct {
	ReadsTotal  *prometheus.CounterVec // labels: result
	ReopenTotal prometheus.Counter
	Reading     *prometheus.GaugeVec // labels: field; last accepted reading
	Average     *prometheus.GaugeVec // labels: field; last window average
	AirQuality  prometheus.Gauge
}

// NewSensorMetrics registers the sensor metrics on reg.
func NewSensorMetrics(reg prometheus.Registerer) *SensorMetrics {
	m := &SensorMetrics{
		ReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pms7003_reads_total",
			Help: "Frame read attempts by result.",
		}, []string{"result"}),
		ReopenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pms7003_reopen_total",
			Help: "Times the serial session was reopened.",
		}),
		Reading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pms7003_reading",
			Help: "Last accepted value reported by the sensor.",
		}, []string{"field"}),
		Average: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pms7003_average",
			Help: "Average over the last completed sample window.",
		}, []string{"field"}),
		AirQuality: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pms7003_air_quality",
			Help: "Air quality category 1 (excellent) to 5 (poor) from averaged PM2.5.",
		}),
	}
	reg.MustRegister(m.ReadsTotal, m.ReopenTotal, m.Reading, m.Average, m.AirQuality)
	return m
}

// ResultLabel maps a read error to its "result" label.
func ResultLabel(err error) string {
	if err == nil {
		return ResultOK
	}
	switch pms7003.KindOf(err) {
	case pms7003.InvalidArgument:
		return "invalid_argument"
	case pms7003.Timeout:
		return "timeout"
	case pms7003.FramingError:
		return "framing"
	case pms7003.ChecksumError:
		return "checksum"
	default:
		return "device"
	}
}

// ObserveRead counts one read attempt.
func (m *SensorMetrics) ObserveRead(err error) {
	m.ReadsTotal.WithLabelValues(ResultLabel(err)).Inc()
}

// ObserveRejected counts a reading dropped as out of range.
func (m *SensorMetrics) ObserveRejected() {
	m.ReadsTotal.WithLabelValues(ResultRejected).Inc()
}

// SetReading updates the last-reading gauges.
func (m *SensorMetrics) SetReading(r pms7003.Reading) {
	for i, v := range r.Values() {
		m.Reading.WithLabelValues(FieldNames[i]).Set(float64(v))
	}
}

// SetAverage updates the window-average gauges and the air quality category.
func (m *SensorMetrics) SetAverage(avg [12]float64, category int) {
	for i, v := range avg {
		m.Average.WithLabelValues(FieldNames[i]).Set(v)
	}
	m.AirQuality.Set(float64(category))
}
