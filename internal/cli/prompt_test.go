package cli

import (
	"bytes"
	"strings"
	"testing"
)

func newTestPrompter(input string) (*Prompter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Prompter{
		In:  strings.NewReader(input),
		Out: out,
	}, out
}

func TestAsk_WithInput(t *testing.T) {
	p, _ := newTestPrompter("hello\n")
	got := p.Ask("Name", "default")
	if got != "hello" {
		t.Errorf("Ask() = %q, want %q", got, "hello")
	}
}

func TestAsk_EmptyUsesDefault(t *testing.T) {
	p, _ := newTestPrompter("\n")
	got := p.Ask("Name", "fallback")
	if got != "fallback" {
		t.Errorf("Ask() = %q, want %q", got, "fallback")
	}
}

func TestAsk_WhitespaceUsesDefault(t *testing.T) {
	p, _ := newTestPrompter("   \n")
	got := p.Ask("Name", "fallback")
	if got != "fallback" {
		t.Errorf("Ask() = %q, want %q", got, "fallback")
	}
}

func TestAsk_ShowsDefaultInPrompt(t *testing.T) {
	p, out := newTestPrompter("\n")
	p.Ask("Role", "Viewer")
	if !strings.Contains(out.String(), "[Viewer]") {
		t.Errorf("prompt missing default hint: %q", out.String())
	}
}

func TestAskPassword_Fallback(t *testing.T) {
	// Not a real terminal, so it falls back to plain read.
	p, _ := newTestPrompter("secret123\n")
	got := p.AskPassword("Password")
	if got != "secret123" {
		t.Errorf("AskPassword() = %q, want %q", got, "secret123")
	}
}
