package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveAssignsVersionAndDigest(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	v, reused, err := s.Save("greeter", strings.NewReader("payload-v1"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if reused {
		t.Fatalf("first save reported reused")
	}
	if v.ID == "" || v.Digest == "" {
		t.Fatalf("incomplete version: %+v", v)
	}
	b, err := os.ReadFile(v.Path)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(b) != "payload-v1" {
		t.Fatalf("payload = %q", b)
	}
}

func TestSaveIdenticalContentIsReused(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	v1, _, err := s.Save("greeter", strings.NewReader("same-bytes"))
	if err != nil {
		t.Fatalf("save v1: %v", err)
	}
	v2, reused, err := s.Save("greeter", strings.NewReader("same-bytes"))
	if err != nil {
		t.Fatalf("save v2: %v", err)
	}
	if !reused {
		t.Fatalf("expected identical upload to be reused")
	}
	if v2.ID != v1.ID || v2.Digest != v1.Digest {
		t.Fatalf("reused version differs: %+v vs %+v", v1, v2)
	}
	ids := s.versionIDs("greeter")
	if len(ids) != 1 {
		t.Fatalf("expected 1 version on disk, got %d", len(ids))
	}
}

func TestLatestPicksNewestVersion(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, ok := s.Latest("greeter"); ok {
		t.Fatalf("latest on empty model should report none")
	}
	v1, _, err := s.Save("greeter", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	v2, _, err := s.Save("greeter", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	latest, ok := s.Latest("greeter")
	if !ok {
		t.Fatalf("latest missing")
	}
	if latest.ID == v1.ID && latest.ID != v2.ID {
		t.Fatalf("latest = %s, want %s", latest.ID, v2.ID)
	}
}

func TestStageSlotLinksVersionDir(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	v, _, err := s.Save("greeter", strings.NewReader("staged"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	link, err := s.StageSlot("greeter", "a", v)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(link, payloadName))
	if err != nil {
		t.Fatalf("read through link: %v", err)
	}
	if string(b) != "staged" {
		t.Fatalf("staged payload = %q", b)
	}

	// Restaging to a newer version must replace the link.
	v2, _, err := s.Save("greeter", strings.NewReader("staged-2"))
	if err != nil {
		t.Fatalf("save v2: %v", err)
	}
	if _, err := s.StageSlot("greeter", "a", v2); err != nil {
		t.Fatalf("restage: %v", err)
	}
	b, err = os.ReadFile(filepath.Join(link, payloadName))
	if err != nil {
		t.Fatalf("read through replaced link: %v", err)
	}
	if string(b) != "staged-2" {
		t.Fatalf("restaged payload = %q", b)
	}
}

func TestSlotPortBasePersistence(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, ok := s.SlotPortBase("greeter"); ok {
		t.Fatalf("port base reported before any was saved")
	}
	if err := s.SaveSlotPortBase("greeter", 6002); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSlotPortBase("faq", 6004); err != nil {
		t.Fatalf("save: %v", err)
	}
	if p, ok := s.SlotPortBase("greeter"); !ok || p != 6002 {
		t.Fatalf("port base = %d ok=%v", p, ok)
	}
	all := s.SlotPortBases()
	if len(all) != 2 || all["greeter"] != 6002 || all["faq"] != 6004 {
		t.Fatalf("assignments = %v", all)
	}
}
