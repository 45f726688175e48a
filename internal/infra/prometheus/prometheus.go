package prometheus

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sifan077/PowerCMS/config"
)

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
	defaultPort       = 9090
)

// InstanceInfo is always 1; its labels identify the running instance.
var InstanceInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "powercms_instance_info",
		Help: "Static information about the running PowerCMS instance.",
	},
	[]string{"instance_id", "store_driver"},
)

// NewServer builds the side HTTP server exposing /metrics.
func NewServer(cfg config.PrometheusConfig, instanceID, storeDriver string) *http.Server {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	InstanceInfo.WithLabelValues(instanceID, storeDriver).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
}
