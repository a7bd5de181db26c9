package pool

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// workerMemoryMB is the budget one worker process is assumed to need with
// its recognition models loaded.
const workerMemoryMB = 2048

// maxRecommended is the hard ceiling on recommended workers. Past two, the
// engine's own internal threading makes extra processes contend rather than
// help.
const maxRecommended = 2

// SystemInfo is the machine snapshot the sizing heuristic works from.
type SystemInfo struct {
	Cores          int
	AvailableMB    int
	SiblingWorkers int
	// GPU reports that recognition runs on a GPU, which serializes on the
	// device anyway.
	GPU bool
}

// Recommend picks a worker count for the machine: one core left for the
// coordinator, bounded by the memory budget, discounted by workers other
// running conversions already hold, capped, never below one.
func Recommend(sys SystemInfo) int {
	if sys.GPU {
		return 1
	}
	n := sys.Cores - 1
	if sys.AvailableMB > 0 {
		if byMem := sys.AvailableMB / workerMemoryMB; byMem < n {
			n = byMem
		}
	}
	n -= sys.SiblingWorkers
	if n > maxRecommended {
		n = maxRecommended
	}
	if n < 1 {
		n = 1
	}
	return n
}

// DetectSystem snapshots cores, available memory and sibling workers. The
// GPU flag comes from the caller's configuration; probing devices is out of
// scope here.
func DetectSystem(gpu bool) SystemInfo {
	return SystemInfo{
		Cores:          runtime.NumCPU(),
		AvailableMB:    readAvailableMB("/proc/meminfo"),
		SiblingWorkers: countSiblingWorkers("/proc"),
		GPU:            gpu,
	}
}

// AvailableMemoryMB reports the system's currently available memory in
// MiB, or zero when it cannot be determined.
func AvailableMemoryMB() int {
	return readAvailableMB("/proc/meminfo")
}

// readAvailableMB parses MemAvailable out of a meminfo-format file. Zero
// means unknown; Recommend then effectively ignores the memory bound.
func readAvailableMB(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}

// countSiblingWorkers counts worker processes of other running conversions
// by scanning process command lines for this binary's name in worker mode.
func countSiblingWorkers(procDir string) int {
	exe, err := os.Executable()
	if err != nil {
		return 0
	}
	base := filepath.Base(exe)
	entries, err := os.ReadDir(procDir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(procDir, e.Name(), "cmdline"))
		if err != nil {
			continue
		}
		args := bytes.Split(data, []byte{0})
		if len(args) < 2 {
			continue
		}
		if strings.HasSuffix(string(args[0]), base) && string(args[1]) == WorkerArg {
			count++
		}
	}
	return count
}
