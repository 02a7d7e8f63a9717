package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/botdeployer/deployer/internal/deploy"
)

func newDeployment(config map[string]any) *deploy.Deployment {
	return deploy.New("demon-slayer", config)
}

func TestScriptGate_Lua(t *testing.T) {
	src := `
function check(d)
  if d.botId ~= "demon-slayer" then
    return true
  end
  if d.config.OWNER_NUMBER == nil then
    return "owner number required"
  end
  if string.sub(d.config.OWNER_NUMBER, 1, 1) == "0" then
    return false
  end
  print("ok", #d.logs)
end
`
	gate, err := NewScriptGate(LanguageLua, src, time.Second, nil)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	ctx := context.Background()
	if err := gate.Check(ctx, newDeployment(map[string]any{"OWNER_NUMBER": "2547000"})); err != nil {
		t.Errorf("expected pass, got %v", err)
	}
	if err := gate.Check(ctx, newDeployment(nil)); err == nil || err.Error() != "owner number required" {
		t.Errorf("expected reason, got %v", err)
	}
	if err := gate.Check(ctx, newDeployment(map[string]any{"OWNER_NUMBER": "0700"})); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestScriptGate_JS(t *testing.T) {
	src := `
function check(d) {
  console.log("checking", d.id);
  if (d.config.MODE === "self") {
    return "self mode disabled on this host";
  }
  return d.logs.length > 0;
}
`
	gate, err := NewScriptGate(LanguageJS, src, time.Second, nil)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	ctx := context.Background()
	if err := gate.Check(ctx, newDeployment(map[string]any{"MODE": "public"})); err != nil {
		t.Errorf("expected pass, got %v", err)
	}
	if err := gate.Check(ctx, newDeployment(map[string]any{"MODE": "self"})); err == nil || !strings.Contains(err.Error(), "self mode") {
		t.Errorf("expected reason, got %v", err)
	}
}

func TestScriptGate_SyntaxError(t *testing.T) {
	if _, err := NewScriptGate(LanguageLua, "function check(", time.Second, nil); err == nil {
		t.Error("expected lua compile error")
	}
	if _, err := NewScriptGate(LanguageJS, "function check( {", time.Second, nil); err == nil {
		t.Error("expected js compile error")
	}
	if _, err := NewScriptGate("python", "", time.Second, nil); err == nil {
		t.Error("expected unsupported language error")
	}
}

func TestScriptGate_MissingCheck(t *testing.T) {
	gate, err := NewScriptGate(LanguageJS, "var x = 1;", time.Second, nil)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	if err := gate.Check(context.Background(), newDeployment(nil)); err == nil {
		t.Error("expected error for missing check function")
	}
}

func TestScriptGate_BadReturnType(t *testing.T) {
	gate, err := NewScriptGate(LanguageLua, "function check(d) return 42 end", time.Second, nil)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	if err := gate.Check(context.Background(), newDeployment(nil)); err == nil {
		t.Error("expected error for numeric verdict")
	}
}

func TestScriptGate_Timeout(t *testing.T) {
	luaGate, err := NewScriptGate(LanguageLua, "function check(d) while true do end end", 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new lua gate: %v", err)
	}
	if err := luaGate.Check(context.Background(), newDeployment(nil)); err == nil {
		t.Error("expected lua timeout")
	}

	jsGate, err := NewScriptGate(LanguageJS, "function check(d) { while (true) {} }", 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new js gate: %v", err)
	}
	if err := jsGate.Check(context.Background(), newDeployment(nil)); err == nil {
		t.Error("expected js timeout")
	}
}

func TestScriptGate_NoOSAccess(t *testing.T) {
	gate, err := NewScriptGate(LanguageLua, `function check(d) return os.getenv("HOME") end`, time.Second, nil)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	if err := gate.Check(context.Background(), newDeployment(nil)); err == nil || !strings.Contains(err.Error(), "policy script error") {
		t.Errorf("expected script error without os library, got %v", err)
	}
}

func TestLoadScriptGate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.lua")
	if err := os.WriteFile(path, []byte(`function check(d) return d.status == "initializing" end`), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	gate, err := LoadScriptGate(path, 0, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := gate.Check(context.Background(), newDeployment(nil)); err != nil {
		t.Errorf("expected pass, got %v", err)
	}

	if _, err := LoadScriptGate(filepath.Join(dir, "policy.py"), 0, nil); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := LoadScriptGate(filepath.Join(dir, "missing.js"), 0, nil); err == nil {
		t.Error("expected error for missing file")
	}
}
