package checkpoint

import (
	"syscall"
)

func getKernelVersion() string {
	var uts syscall.Utsname
	syscall.Uname(&uts)
	release := uts.Release[:]
	s := make([]byte, 0, len(release))
	for _, c := range release {
		if c == 0 {
			break
		}
		s = append(s, byte(c))
	}
	return string(s)
}
