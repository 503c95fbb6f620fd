package sandbox

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// hostPortFree probes whether a host TCP port can currently be bound.
func hostPortFree(port string) bool {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// killProjectListeners terminates processes listening on the port, but only
// those whose working directory is inside the project tree. Matching by cwd
// is best-effort (a process can chdir at any time); the policy is to never
// escalate to killing by port alone, so an unrelated process holding the
// port simply keeps it and the sandbox degrades. Returns the number of
// processes signalled.
func killProjectListeners(port, projectDir string) int {
	pids := listeningPids(port)
	if len(pids) == 0 {
		return 0
	}

	absProject, err := filepath.Abs(projectDir)
	if err != nil {
		return 0
	}

	killed := 0
	for _, pid := range pids {
		cwd, err := os.Readlink("/proc/" + strconv.Itoa(pid) + "/cwd")
		if err != nil {
			continue
		}
		if cwd != absProject && !strings.HasPrefix(cwd, absProject+string(os.PathSeparator)) {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err == nil {
			killed++
		}
	}
	return killed
}

// listeningPids resolves which processes hold the given TCP port, via lsof.
func listeningPids(port string) []int {
	out, err := exec.Command("lsof", "-t", "-i", "tcp:"+port).Output()
	if err != nil {
		// lsof exits non-zero when nothing holds the port.
		return nil
	}

	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}
