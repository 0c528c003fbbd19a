package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trust_engine_build_info",
			Help: "Running trust engine build and its relationship store backend, always 1.",
		},
		[]string{"version", "commit", "store"},
	)
)

// InitBuildInfo publishes the single build series for this process. Earlier
// series are dropped so a restarted engine never reports two backends.
func InitBuildInfo(version, commit, store string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, store).Set(1)
}
