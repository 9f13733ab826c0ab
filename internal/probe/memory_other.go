//go:build !linux

package probe

func physicalMemUsed() (float64, error) { return 0, ErrUnsupported }

func virtualMemUsed() (float64, error) { return 0, ErrUnsupported }
