package ramadctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"ramad/pkg/types"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

func getJSON(url string, out any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d: %s", url, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// modelList prints the daemon's model summaries.
func modelList(cfg *Config) error {
	var list types.ModelsResponse
	if err := getJSON(cfg.Addr+"/model", &list); err != nil {
		return err
	}
	if len(list.Models) == 0 {
		info("no models registered")
		return nil
	}
	for _, m := range list.Models {
		info("%-24s state=%-12s slot=%-2s version=%s", m.Name, m.State, m.ActiveSlot, m.Version)
	}
	return nil
}

// modelStatus prints the full status of one model.
func modelStatus(cfg *Config, name string) error {
	var st types.ModelStatusResponse
	if err := getJSON(cfg.Addr+"/model/"+name, &st); err != nil {
		return err
	}
	info("%s: state=%s active=%s version=%s queue=%d", st.Name, st.State, st.ActiveSlot, st.Version, st.QueueLen)
	if st.LastError != "" {
		warn("last error: %s", st.LastError)
	}
	for _, s := range st.Slots {
		info("  slot %s group=%s health=%-10s inflight=%d version=%s", s.Slot, s.Group, s.Health, s.Inflight, s.Version)
	}
	return nil
}

// uploadArtifact PUTs a local file as a new artifact for the model.
func uploadArtifact(cfg *Config, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	req, err := http.NewRequest(http.MethodPut, cfg.Addr+"/model/"+name, f)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("upload rejected: %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var up types.UploadResponse
	if err := json.Unmarshal(b, &up); err != nil {
		return err
	}
	if up.NoOp {
		info("upload accepted as no-op (already serving %s)", up.Digest)
		return nil
	}
	info("upload accepted: version=%s digest=%s", up.Version, up.Digest)
	return nil
}

// infer POSTs a message to the model and prints the raw worker reply.
func infer(cfg *Config, name, message string) error {
	payload, _ := json.Marshal(map[string]string{"message": message})
	resp, err := httpClient.Post(cfg.Addr+"/model/"+name, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference failed: %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	fmt.Println(strings.TrimSpace(string(b)))
	return nil
}

// smoke runs an end-to-end check against a running daemon: health, then an
// artifact upload, then waits for the model to come up and sends one
// inference through it.
func smoke(cfg *Config, name, artifactPath string) error {
	info("[smoke] checking %s/healthz", cfg.Addr)
	if err := waitHTTP(cfg.Addr+"/healthz", http.StatusOK, 10*time.Second); err != nil {
		return err
	}
	info("[smoke] uploading %s as model %q", artifactPath, name)
	if err := uploadArtifact(cfg, name, artifactPath); err != nil {
		return err
	}
	info("[smoke] waiting for %q to reach active_only", name)
	if err := waitModelActive(cfg, name, cfg.SmokeTimeout); err != nil {
		return err
	}
	info("[smoke] sending a probe message")
	if err := infer(cfg, name, "hello"); err != nil {
		return err
	}
	info("[smoke] OK")
	return nil
}

func waitModelActive(cfg *Config, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var st types.ModelStatusResponse
		err := getJSON(cfg.Addr+"/model/"+name, &st)
		if err == nil {
			switch st.State {
			case "active_only":
				return nil
			case "failed":
				return fmt.Errorf("promotion failed: %s", st.LastError)
			}
			debug("[smoke] state=%s", st.State)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("model %q not active after %s", name, timeout)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// checkPorts verifies the worker port range the daemon would assign.
func checkPorts(cfg *Config, models int) error {
	return ensurePorts(workerPorts(cfg.WorkerPortBase, models), cfg.Force)
}

// runGoTests runs the module's own test suite.
func runGoTests(cfg *Config) error {
	info("[go] Running go test ./...")
	return runStreaming(context.Background(), "go", "test", "./...")
}
