package aqmbench

//
// Kernel timer frequency
//

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"golang.org/x/sys/unix"
)

// hzPattern matches the CONFIG_HZ line of a kernel build configuration.
var hzPattern = regexp.MustCompile(`(?m)^CONFIG_HZ=(\d+)$`)

// TimerHz reads the kernel timer frequency (CONFIG_HZ) from the running
// kernel's build configuration. The frequency is an external fact about
// the host: the baseline shaping plan derives its burst size from it.
func TimerHz() (int, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return 0, err
	}
	release := unix.ByteSliceToString(uname.Release[:])
	data, err := os.ReadFile("/boot/config-" + release)
	if err != nil {
		return 0, err
	}
	matches := hzPattern.FindSubmatch(data)
	if matches == nil {
		return 0, fmt.Errorf("aqmbench: CONFIG_HZ not found in kernel config for %s", release)
	}
	return strconv.Atoi(string(matches[1]))
}
