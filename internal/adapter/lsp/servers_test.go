package lsp

import (
	"errors"
	"path/filepath"
	"testing"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

func TestNewServer(t *testing.T) {
	for _, lang := range lspDomain.ServerLanguages {
		s, err := NewServer(lang, StaticCommand("srv"))
		if err != nil {
			t.Fatalf("NewServer(%s): %v", lang, err)
		}
		if s.Language() != lang {
			t.Errorf("Language() = %s, want %s", s.Language(), lang)
		}
		argv, err := s.Command()
		if err != nil || len(argv) != 1 || argv[0] != "srv" {
			t.Errorf("%s Command() = (%v, %v)", lang, argv, err)
		}
	}

	if _, err := NewServer(lspDomain.LanguageJavaScript, StaticCommand("srv")); !errors.Is(err, lspDomain.ErrUnsupportedLanguage) {
		t.Errorf("javascript has no own server, got %v", err)
	}
}

func TestServerEmptyCommand(t *testing.T) {
	s, _ := NewServer(lspDomain.LanguagePython, StaticCommand())
	if _, err := s.Command(); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestServerCommandError(t *testing.T) {
	want := errors.New("not installed")
	s, _ := NewServer(lspDomain.LanguageKotlin, CommandFunc(func() ([]string, error) { return nil, want }))
	if _, err := s.Command(); !errors.Is(err, want) {
		t.Fatalf("Command() err = %v, want %v", err, want)
	}
}

func TestJavaInitializationOptions(t *testing.T) {
	s, _ := NewServer(lspDomain.LanguageJava, StaticCommand("jdtls"))
	ws := t.TempDir()
	opts, ok := s.InitializationOptions(ws).(map[string]any)
	if !ok {
		t.Fatalf("expected map options, got %T", s.InitializationOptions(ws))
	}
	folders, _ := opts["workspaceFolders"].([]string)
	if len(folders) != 1 || folders[0] != PathToURI(ws) {
		t.Errorf("workspaceFolders = %v", opts["workspaceFolders"])
	}

	csharp, _ := NewServer(lspDomain.LanguageCSharp, StaticCommand("csharp-ls"))
	if csharp.InitializationOptions(ws) != nil {
		t.Error("csharp sends no initialization options")
	}
}

func TestURIRoundTrip(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "a.ts"),
		filepath.Join(dir, "with space", "b.go"),
		filepath.Join(dir, "ünïcode.py"),
	}
	for _, p := range paths {
		uri := PathToURI(p)
		if got := URIToPath(uri); got != p {
			t.Errorf("URIToPath(PathToURI(%q)) = %q (uri %q)", p, got, uri)
		}
	}
	if got := URIToPath("untitled:Untitled-1"); got != "untitled:Untitled-1" {
		t.Errorf("non-file uri changed: %q", got)
	}
}
