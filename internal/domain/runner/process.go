package runner

import (
	"github.com/shirou/gopsutil/process"
)

// killDescendants walks the process table below pid and kills every child,
// deepest first. Errors are ignored since processes may exit mid-walk.
func killDescendants(pid int) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	killChildren(p, 0)
}

func killChildren(p *process.Process, depth int) {
	if depth > 32 {
		return
	}
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, c := range children {
		killChildren(c, depth+1)
		_ = c.Kill()
	}
}
