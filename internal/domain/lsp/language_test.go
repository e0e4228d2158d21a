package lsp

import "testing"

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want Language
		ok   bool
	}{
		{"Foo.java", LanguageJava, true},
		{"src/app.ts", LanguageTypeScript, true},
		{"src/App.TSX", LanguageTypeScript, true},
		{"index.mjs", LanguageJavaScript, true},
		{"main.py", LanguagePython, true},
		{"stubs.pyi", LanguagePython, true},
		{"Build.kts", LanguageKotlin, true},
		{"Program.cs", LanguageCSharp, true},
		{"lib.rs", LanguageRust, true},
		{"cmd/main.go", LanguageGo, true},
		{"bar.unknownext", "", false},
		{"Makefile", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := DetectLanguage(tt.path)
			if got != tt.want || ok != tt.ok {
				t.Errorf("DetectLanguage(%q) = (%q, %v), want (%q, %v)", tt.path, got, ok, tt.want, tt.ok)
			}
			if IsSupported(tt.path) != tt.ok {
				t.Errorf("IsSupported(%q) = %v, want %v", tt.path, !tt.ok, tt.ok)
			}
		})
	}
}

func TestLanguageID(t *testing.T) {
	tests := map[string]string{
		"a.ts":   "typescript",
		"a.tsx":  "typescriptreact",
		"a.jsx":  "javascriptreact",
		"a.js":   "javascript",
		"A.java": "java",
		"a.txt":  "plaintext",
	}
	for path, want := range tests {
		if got := LanguageID(path); got != want {
			t.Errorf("LanguageID(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestServerLanguage(t *testing.T) {
	if got := ServerLanguage(LanguageJavaScript); got != LanguageTypeScript {
		t.Errorf("javascript served by %q, want typescript", got)
	}
	if got := ServerLanguage(LanguageGo); got != LanguageGo {
		t.Errorf("go served by %q, want go", got)
	}
}

func TestServerLanguagesHaveExtensions(t *testing.T) {
	for _, lang := range ServerLanguages {
		found := false
		for _, l := range extensionLanguages {
			if ServerLanguage(l) == lang {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("server language %q has no file extension", lang)
		}
	}
}
