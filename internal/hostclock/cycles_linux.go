//go:build linux

package hostclock

import "golang.org/x/sys/unix"

// readJiffies returns accumulated user+system CPU time for the calling
// process, in the same 1/100s jiffy unit /proc/<pid>/stat reports,
// derived from unix.Getrusage rather than parsing /proc/self/stat by
// hand. Returns 0 if the rusage call fails; Measure treats that as
// "jiffy data unavailable" rather than failing calibration outright.
func readJiffies() uint64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	utimeUS := int64(ru.Utime.Sec)*1_000_000 + int64(ru.Utime.Usec)
	stimeUS := int64(ru.Stime.Sec)*1_000_000 + int64(ru.Stime.Usec)
	return uint64((utimeUS + stimeUS) / 10_000) // microseconds -> 1/100s jiffies
}
