// Package checkpoint reports the running version and logs when a
// newer release is available. It sends no configuration, only the
// version and coarse platform facts; set CHECKPOINT_DISABLE to opt
// out entirely.
package checkpoint

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/weaveworks/go-checkpoint"
)

const versionCheckPeriod = 6 * time.Hour

// CheckForUpdates starts a periodic version check, logging the result
// of each poll. Stop the returned checker to cease polling.
func CheckForUpdates(product, version string, extra map[string]string, logger log.Logger) *checkpoint.Checker {
	handleResponse := func(r *checkpoint.CheckResponse, err error) {
		if err != nil {
			logger.Log("err", err)
			return
		}
		if r.Outdated {
			logger.Log("msg", "update available", "latest", r.CurrentVersion, "URL", r.CurrentDownloadURL)
			return
		}
		logger.Log("msg", "up to date", "latest", r.CurrentVersion)
	}

	flags := map[string]string{
		"kernel-version": getKernelVersion(),
	}
	for k, v := range extra {
		flags[k] = v
	}

	params := checkpoint.CheckParams{
		Product: product,
		Version: version,
		Flags:   flags,
	}

	return checkpoint.CheckInterval(&params, versionCheckPeriod, handleResponse)
}
