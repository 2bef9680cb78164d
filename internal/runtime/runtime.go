// Package runtime bootstraps process-level settings for an embedding
// process, grounded verbatim on the teacher's
// maxprocs.Set(maxprocs.Logger(log.Infof)) call in
// cmd/image-service/main.go.
package runtime

import (
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/teacup-imaging/imagepipeline/internal/logger"
)

// SetMaxProcs sets GOMAXPROCS to match the container's CPU quota (cgroup
// cpu.cfs_quota_us / cpu.cfs_period_us) instead of the host's full core
// count, undoing the scheduling contention that otherwise shows up as
// stage queues backing up under a CPU limit nobody told the Go runtime
// about.
func SetMaxProcs(log *logger.Logger) {
	if _, err := maxprocs.Set(maxprocs.Logger(log.Infof)); err != nil {
		log.Warnw("failed to set GOMAXPROCS", "error", err)
	}
}
