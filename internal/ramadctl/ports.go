package ramadctl

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// chooseFreePort finds an available TCP port by asking the kernel for :0.
func chooseFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

func isPortBusy(port int) (bool, string) {
	// Try connecting; if it succeeds, someone is listening.
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return true, "tcp listener detected"
	}
	return false, ""
}

// workerPorts lists the slot ports the daemon will hand out for n model
// names: two consecutive ports per name starting at base.
func workerPorts(base, n int) []int {
	out := make([]int, 0, 2*n)
	for i := 0; i < n; i++ {
		out = append(out, base+2*i, base+2*i+1)
	}
	return out
}

func waitHTTP(url string, want int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client := &http.Client{Timeout: 2 * time.Second}
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == want {
				return nil
			}
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s to return %d", url, want)
		}
	}
}

// ensurePorts verifies that every port in the worker range is either free
// or, with force, at least reported.
func ensurePorts(ports []int, force bool) error {
	for _, p := range ports {
		busy, desc := isPortBusy(p)
		if !busy {
			info("[ports] Port %d is free", p)
			continue
		}
		warn("[ports] Port %d is busy: %s", p, desc)
		if !force {
			return fmt.Errorf("port %d is in use; free it or run the daemon with a different --worker-port-base", p)
		}
	}
	return nil
}
