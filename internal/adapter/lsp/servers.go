package lsp

import (
	"fmt"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// Server is the per-language part of a Client: how to launch the server and
// what to send as initializationOptions. Framing, correlation and lifecycle
// are shared by every language.
type Server interface {
	Language() lspDomain.Language
	Command() ([]string, error)
	InitializationOptions(workspace string) any
}

// CommandSource supplies a launch command, typically an installer.
type CommandSource interface {
	ServerCommand() ([]string, error)
}

// CommandFunc adapts a function to CommandSource.
type CommandFunc func() ([]string, error)

func (f CommandFunc) ServerCommand() ([]string, error) { return f() }

// StaticCommand returns a CommandSource that always yields argv.
func StaticCommand(argv ...string) CommandSource {
	return CommandFunc(func() ([]string, error) { return argv, nil })
}

type initOptionsFunc func(workspace string) any

// initOptions holds initializationOptions per server language. Languages
// without an entry send none.
var initOptions = map[lspDomain.Language]initOptionsFunc{
	lspDomain.LanguageTypeScript: func(string) any {
		return map[string]any{
			"hostInfo": "forgelsp",
			"preferences": map[string]any{
				"includeCompletionsForModuleExports": false,
			},
		}
	},
	lspDomain.LanguageJava: func(workspace string) any {
		return map[string]any{
			"workspaceFolders": []string{PathToURI(workspace)},
			"settings": map[string]any{
				"java": map[string]any{
					"autobuild": map[string]any{"enabled": true},
				},
			},
		}
	},
	lspDomain.LanguageRust: func(string) any {
		return map[string]any{
			"check": map[string]any{"command": "check"},
			"cargo": map[string]any{"buildScripts": map[string]any{"enable": true}},
		}
	},
	lspDomain.LanguageGo: func(string) any {
		return map[string]any{
			"diagnosticsDelay": "250ms",
		}
	},
}

type languageServer struct {
	lang    lspDomain.Language
	source  CommandSource
	options initOptionsFunc
}

// NewServer returns the Server for a server language (see lspDomain.ServerLanguages).
func NewServer(lang lspDomain.Language, source CommandSource) (Server, error) {
	supported := false
	for _, l := range lspDomain.ServerLanguages {
		if l == lang {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("%w: %s", lspDomain.ErrUnsupportedLanguage, lang)
	}
	return &languageServer{lang: lang, source: source, options: initOptions[lang]}, nil
}

func (s *languageServer) Language() lspDomain.Language { return s.lang }

func (s *languageServer) Command() ([]string, error) {
	argv, err := s.source.ServerCommand()
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty launch command for %s", s.lang)
	}
	return argv, nil
}

func (s *languageServer) InitializationOptions(workspace string) any {
	if s.options == nil {
		return nil
	}
	return s.options(workspace)
}
