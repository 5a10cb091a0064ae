package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

const lspName = "minilang-lsp"

// LspServer reports compile errors to editors and offers completion over
// keywords and global names. Compilations go through a Worker.
type LspServer struct {
	worker *Worker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server using the given worker.
func NewLSP(w *Worker) *LspServer {
	s := &LspServer{
		worker:  w,
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("minilang LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil // unknown document
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil // nothing to complete
	}
	return s.complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil // unknown document
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil // no word
	}
	return s.hover(word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil // unknown document
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil // no word
	}
	locs := s.definition(context.Background(), uri, text, word, int(params.Position.Line)+1)
	if len(locs) == 0 {
		return nil, nil // not found
	}
	return locs, nil
}

func (s *LspServer) complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	c := s.worker.Compiler()

	for _, w := range c.Keywords().Words() {
		if w != "" && strings.HasPrefix(w, prefix) {
			kind := protocol.CompletionItemKindKeyword
			detail := "keyword"
			word := w
			items = append(items, protocol.CompletionItem{
				Label:      word,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &word,
			})
		}
	}

	if names, ok := c.Globals().(interface{ Names() []string }); ok {
		for _, name := range names.Names() {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			kind := protocol.CompletionItemKindVariable
			detail := "global"
			nameCopy := name
			items = append(items, protocol.CompletionItem{
				Label:      name,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &nameCopy,
			})
		}
	}

	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func (s *LspServer) hover(word string) *protocol.Hover {
	c := s.worker.Compiler()
	var value string
	if _, ok := c.Keywords().Lookup(word); ok {
		value = fmt.Sprintf("**%s** keyword", word)
	} else if v, ok, err := c.Globals().Lookup(word); err == nil && ok {
		value = fmt.Sprintf("**%s** global\n\n`%s`", word, runtime.Repr(v))
	} else {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// definition compiles the document and returns the declarations named
// word, preferring the nearest one at or before line.
func (s *LspServer) definition(ctx context.Context, uri protocol.DocumentUri, text, word string, line int) []protocol.Location {
	v, err := s.worker.Do(ctx, func(c *compiler.Compiler) (any, error) {
		return c.CompileSource(ctx, string(uri), text)
	})
	if err != nil {
		return nil
	}
	var decls []bytecode.DeclInfo
	for _, fn := range v.(*bytecode.Func).Funcs() {
		for _, d := range fn.Decls {
			if d.Name == word {
				decls = append(decls, d)
			}
		}
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Line < decls[j].Line })

	best := -1
	for i, d := range decls {
		if d.Line <= line {
			best = i
		}
	}
	if best >= 0 {
		decls = []bytecode.DeclInfo{decls[best]}
	}

	var locs []protocol.Location
	for _, d := range decls {
		locs = append(locs, protocol.Location{URI: uri, Range: lineRange(d.Line)})
	}
	return locs
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := s.diagnostics(context.Background(), uri, text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func (s *LspServer) diagnostics(ctx context.Context, uri protocol.DocumentUri, text string) []protocol.Diagnostic {
	err := s.worker.Check(ctx, string(uri), text)
	if err == nil {
		return []protocol.Diagnostic{}
	}

	var diagnostics []protocol.Diagnostic
	for _, d := range diagnose(err) {
		severity := protocol.DiagnosticSeverityError
		source := lspName
		code := protocol.IntegerOrString{Value: d.Category}
		message := d.Message
		if len(d.Trace) > 0 {
			message += "\n\tat " + strings.Join(d.Trace, "\n\tat ")
		}
		line := d.Line
		var ce *compiler.Error
		if errors.As(err, &ce) && ce.Source != string(uri) {
			// Raised while expanding code from elsewhere; point at the
			// outermost frame in this document.
			line = 0
			for _, p := range ce.Trace {
				if p.Source == string(uri) {
					line = p.Line
				}
			}
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    lineRange(line),
			Severity: &severity,
			Code:     &code,
			Source:   &source,
			Message:  message,
		})
	}
	return diagnostics
}

// lineRange spans the whole of a 1-based source line.
func lineRange(line int) protocol.Range {
	if line > 0 {
		line--
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
		End:   protocol.Position{Line: protocol.UInteger(line + 1), Character: 0},
	}
}

// --- Text extraction helpers ---

func isIdentChar(ch byte) bool {
	return ch == '_' || ch >= 0x80 || unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch))
}

// extractPrefix returns the identifier fragment before the cursor.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(line[end]) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
