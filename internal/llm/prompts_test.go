package llm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPackCoversAllSections(t *testing.T) {
	pack := DefaultPack()
	for _, key := range []string{"requirements", "architecture", "software_architecture", "database_design"} {
		prompt, ok := pack.For(key)
		if !ok {
			t.Fatalf("expected prompt for %s", key)
		}
		if strings.TrimSpace(prompt.System) == "" {
			t.Fatalf("expected system prompt for %s", key)
		}
		if !strings.Contains(prompt.User, "{srs}") {
			t.Fatalf("expected {srs} placeholder in %s user template", key)
		}
		if !strings.Contains(prompt.User, "Do NOT include the section title") {
			t.Fatalf("expected section-title instruction in %s user template", key)
		}
	}
}

func TestRenderSubstitutesSource(t *testing.T) {
	prompt := Prompt{User: "Document this:\n{srs}\nEnd."}
	got := prompt.Render("the system shall persist orders")
	if !strings.Contains(got, "the system shall persist orders") {
		t.Fatalf("expected source text substituted, got %q", got)
	}
	if strings.Contains(got, "{srs}") {
		t.Fatalf("expected placeholder consumed, got %q", got)
	}
}

func TestLoadPackMissingFileFallsBack(t *testing.T) {
	pack, err := LoadPack(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected missing file to be tolerated, got %v", err)
	}
	if _, ok := pack.For("requirements"); !ok {
		t.Fatalf("expected default pack on missing file")
	}
}

func TestLoadPackMergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	contents := `requirements:
  system: "Custom analyst persona."
  user: "Custom template with {srs} inside."
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	pack, err := LoadPack(path)
	if err != nil {
		t.Fatalf("load pack: %v", err)
	}

	prompt, _ := pack.For("requirements")
	if prompt.System != "Custom analyst persona." {
		t.Fatalf("expected overridden system prompt, got %q", prompt.System)
	}
	if !strings.Contains(prompt.User, "Custom template") {
		t.Fatalf("expected overridden user template, got %q", prompt.User)
	}

	untouched, _ := pack.For("database_design")
	if untouched.System != databaseDesignSystem {
		t.Fatalf("expected untouched sections to keep defaults")
	}
}

func TestLoadPackRejectsUnknownSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	contents := `deployment:
  user: "irrelevant {srs}"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	if _, err := LoadPack(path); err == nil {
		t.Fatalf("expected unknown section key to be rejected")
	}
}

func TestLoadPackRejectsTemplateWithoutPlaceholder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	contents := `architecture:
  user: "no placeholder here"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	if _, err := LoadPack(path); err == nil {
		t.Fatalf("expected template without {srs} to be rejected")
	}
}
