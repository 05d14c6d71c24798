package process

import (
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Stats is the OS view of a running process.
type Stats struct {
	UptimeSeconds uint64 `json:"uptime_seconds"`
	MemoryBytes   uint64 `json:"memory_bytes"`
}

// Inspect reads uptime and resident memory for pid from OS process accounting.
func Inspect(pid int) (Stats, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	created, err := p.CreateTime()
	if err != nil {
		return Stats{}, err
	}
	if up := time.Since(time.UnixMilli(created)); up > 0 {
		st.UptimeSeconds = uint64(up / time.Second)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Stats{}, err
	}
	st.MemoryBytes = mem.RSS
	return st, nil
}
