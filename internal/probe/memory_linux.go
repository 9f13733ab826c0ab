//go:build linux

package probe

import "golang.org/x/sys/unix"

// physicalMemUsed reports used RAM in bytes, excluding buffers.
func physicalMemUsed() (float64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	used := uint64(si.Totalram) - uint64(si.Freeram) - uint64(si.Bufferram)
	return float64(used * unit), nil
}

// virtualMemUsed reports used swap in bytes.
func virtualMemUsed() (float64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	used := uint64(si.Totalswap) - uint64(si.Freeswap)
	return float64(used * unit), nil
}
