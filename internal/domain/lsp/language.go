package lsp

import (
	"path/filepath"
	"strings"
)

// Language identifies a language with LSP support.
type Language string

const (
	LanguageTypeScript Language = "typescript"
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
	LanguageJava       Language = "java"
	LanguageKotlin     Language = "kotlin"
	LanguageCSharp     Language = "csharp"
	LanguageRust       Language = "rust"
	LanguageGo         Language = "go"
)

// extensionLanguages maps lower-cased file extensions to languages.
var extensionLanguages = map[string]Language{
	".ts":   LanguageTypeScript,
	".tsx":  LanguageTypeScript,
	".mts":  LanguageTypeScript,
	".cts":  LanguageTypeScript,
	".js":   LanguageJavaScript,
	".jsx":  LanguageJavaScript,
	".mjs":  LanguageJavaScript,
	".cjs":  LanguageJavaScript,
	".py":   LanguagePython,
	".pyi":  LanguagePython,
	".java": LanguageJava,
	".kt":   LanguageKotlin,
	".kts":  LanguageKotlin,
	".cs":   LanguageCSharp,
	".rs":   LanguageRust,
	".go":   LanguageGo,
}

// ServerLanguages lists the languages that own a language server process.
// JavaScript files are served by the TypeScript server.
var ServerLanguages = []Language{
	LanguageTypeScript,
	LanguagePython,
	LanguageJava,
	LanguageKotlin,
	LanguageCSharp,
	LanguageRust,
	LanguageGo,
}

// DetectLanguage maps a file path to its language by extension.
// The second return value is false for unsupported files; callers should
// skip LSP integration for them rather than treat it as an error.
func DetectLanguage(path string) (Language, bool) {
	lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// IsSupported reports whether DetectLanguage recognizes the path.
func IsSupported(path string) bool {
	_, ok := DetectLanguage(path)
	return ok
}

// ServerLanguage returns the language whose server handles files of lang.
func ServerLanguage(lang Language) Language {
	if lang == LanguageJavaScript {
		return LanguageTypeScript
	}
	return lang
}

// LanguageID returns the LSP languageId for a file, as sent in didOpen.
func LanguageID(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".tsx":
		return "typescriptreact"
	case ".jsx":
		return "javascriptreact"
	}
	lang, ok := extensionLanguages[ext]
	if !ok {
		return "plaintext"
	}
	return string(lang)
}
