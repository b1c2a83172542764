package checkpoint

import (
	"syscall"
)

func getKernelVersion() string {
	v, err := syscall.Sysctl("kern.osrelease")
	if err != nil {
		return "darwin-unknown"
	}
	return "darwin-" + v
}
