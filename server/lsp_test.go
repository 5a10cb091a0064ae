package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ---------------------------------------------------------------------------
// Text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		line uint32
		col  uint32
		want string
	}{
		{"simple word", "x + tup", 0, 7, "tup"},
		{"at start", "tup", 0, 3, "tup"},
		{"empty line", "", 0, 0, ""},
		{"multi line", "first line\nsecond line\nels", 2, 3, "els"},
		{"after operator", "let x := foo", 0, 12, "foo"},
		{"stops at colon", "x:meth", 0, 6, "meth"},
		{"cursor at beginning", "hello", 0, 0, ""},
		{"column past end", "abc", 0, 40, "abc"},
		{"line beyond document", "single line", 5, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractPrefix(tt.text, protocol.Position{Line: tt.line, Character: tt.col})
			if got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		line uint32
		col  uint32
		want string
	}{
		{"middle", "hello world", 0, 3, "hello"},
		{"end of word", "hello world", 0, 5, "hello"},
		{"second word", "hello world", 0, 8, "world"},
		{"empty line", "", 0, 0, ""},
		{"multi line", "first\nsecond", 1, 3, "second"},
		{"underscore", "my_var", 0, 3, "my_var"},
		{"between operators", "a + b", 0, 2, ""},
		{"line beyond document", "single line", 5, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractWord(tt.text, protocol.Position{Line: tt.line, Character: tt.col})
			if got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineRange(t *testing.T) {
	r := lineRange(3)
	if r.Start.Line != 2 || r.End.Line != 3 {
		t.Errorf("lineRange(3) = %+v, want lines 2-3", r)
	}
	if r := lineRange(0); r.Start.Line != 0 {
		t.Errorf("lineRange(0) starts at %d, want 0", r.Start.Line)
	}
}

// ---------------------------------------------------------------------------
// Language features
// ---------------------------------------------------------------------------

func newTestLSP(t *testing.T) *LspServer {
	t.Helper()
	s := NewLSP(newTestWorker(t, nil))
	t.Cleanup(s.worker.Stop)
	return s
}

func labels(items []protocol.CompletionItem) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Label)
	}
	return out
}

func TestLSPComplete(t *testing.T) {
	s := newTestLSP(t)

	items := s.complete("els")
	if got := strings.Join(labels(items), ","); got != "else,elseif" {
		t.Errorf("complete(els) = %s, want else,elseif", got)
	}
	for _, it := range items {
		if *it.Kind != protocol.CompletionItemKindKeyword {
			t.Errorf("%s kind = %v, want keyword", it.Label, *it.Kind)
		}
	}

	items = s.complete("tup")
	if len(items) != 1 || items[0].Label != "tuple" {
		t.Fatalf("complete(tup) = %v, want [tuple]", labels(items))
	}
	if *items[0].Kind != protocol.CompletionItemKindVariable {
		t.Errorf("tuple kind = %v, want variable", *items[0].Kind)
	}

	if items := s.complete("zzz"); len(items) != 0 {
		t.Errorf("complete(zzz) = %v, want none", labels(items))
	}
}

func TestLSPHover(t *testing.T) {
	s := newTestLSP(t)

	tests := []struct {
		word string
		want string
	}{
		{"while", "keyword"},
		{"raise", "global"},
		{"nothing_here", ""},
	}
	for _, tt := range tests {
		h := s.hover(tt.word)
		if tt.want == "" {
			if h != nil {
				t.Errorf("hover(%s) = %+v, want nil", tt.word, h)
			}
			continue
		}
		if h == nil {
			t.Errorf("hover(%s) = nil", tt.word)
			continue
		}
		content := h.Contents.(protocol.MarkupContent)
		if !strings.Contains(content.Value, tt.want) || !strings.Contains(content.Value, tt.word) {
			t.Errorf("hover(%s) = %q, want it to mention %s", tt.word, content.Value, tt.want)
		}
	}
}

func TestLSPDefinition(t *testing.T) {
	s := newTestLSP(t)
	uri := protocol.DocumentUri("file:///test.mini")
	text := "let x := 1\nlet y := x + 1\nfun(z)\n\tlet x := z\n\tx\nend"

	locs := s.definition(context.Background(), uri, text, "x", 2)
	if len(locs) != 1 {
		t.Fatalf("definition(x) = %+v, want one location", locs)
	}
	if locs[0].URI != uri || locs[0].Range.Start.Line != 0 {
		t.Errorf("definition(x) at line 2 = %+v, want line 0", locs[0])
	}

	locs = s.definition(context.Background(), uri, text, "x", 5)
	if len(locs) != 1 || locs[0].Range.Start.Line != 3 {
		t.Errorf("definition(x) at line 5 = %+v, want line 3", locs)
	}

	if locs := s.definition(context.Background(), uri, text, "w", 1); len(locs) != 0 {
		t.Errorf("definition(w) = %+v, want none", locs)
	}
	if locs := s.definition(context.Background(), uri, "let x := ", "x", 1); len(locs) != 0 {
		t.Errorf("definition in broken source = %+v, want none", locs)
	}
}

func TestLSPDiagnostics(t *testing.T) {
	s := newTestLSP(t)
	uri := protocol.DocumentUri("file:///test.mini")

	if d := s.diagnostics(context.Background(), uri, "1 + 2"); len(d) != 0 {
		t.Errorf("diagnostics of valid source = %+v", d)
	}

	d := s.diagnostics(context.Background(), uri, "1 +\n  nope")
	if len(d) != 1 {
		t.Fatalf("diagnostics = %+v, want one", d)
	}
	if d[0].Range.Start.Line != 1 {
		t.Errorf("diagnostic line = %d, want 1", d[0].Range.Start.Line)
	}
	if !strings.Contains(d[0].Message, "nope") {
		t.Errorf("diagnostic message = %q", d[0].Message)
	}
	if *d[0].Severity != protocol.DiagnosticSeverityError {
		t.Errorf("severity = %v, want error", *d[0].Severity)
	}
}

// notifications collects what a handler publishes through its context.
func notifications() (*glsp.Context, chan protocol.PublishDiagnosticsParams) {
	ch := make(chan protocol.PublishDiagnosticsParams, 4)
	ctx := &glsp.Context{
		Notify: func(method string, params any) {
			if method == protocol.ServerTextDocumentPublishDiagnostics {
				ch <- params.(protocol.PublishDiagnosticsParams)
			}
		},
	}
	return ctx, ch
}

func receive(t *testing.T, ch chan protocol.PublishDiagnosticsParams) protocol.PublishDiagnosticsParams {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no diagnostics published")
	}
	return protocol.PublishDiagnosticsParams{}
}

func TestLSPDocumentLifecycle(t *testing.T) {
	s := newTestLSP(t)
	ctx, ch := notifications()
	uri := protocol.DocumentUri("file:///doc.mini")

	err := s.textDocumentDidOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, Text: "exit 1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if p := receive(t, ch); p.URI != uri || len(p.Diagnostics) != 1 {
		t.Errorf("open published %+v, want one diagnostic", p)
	}

	err = s.textDocumentDidChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: "loop exit 1 end"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if p := receive(t, ch); len(p.Diagnostics) != 0 {
		t.Errorf("change published %+v, want no diagnostics", p)
	}
	if text, _ := s.document(uri); text != "loop exit 1 end" {
		t.Errorf("stored text = %q", text)
	}

	err = s.textDocumentDidClose(ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	if err != nil {
		t.Fatal(err)
	}
	receive(t, ch)
	if _, ok := s.document(uri); ok {
		t.Error("document still stored after close")
	}
}

func TestLSPEmptyResults(t *testing.T) {
	s := newTestLSP(t)
	known := protocol.DocumentUri("file:///known.mini")
	s.mu.Lock()
	s.docs[string(known)] = "1 +   2\nzz"
	s.mu.Unlock()

	tests := []struct {
		name string
		uri  protocol.DocumentUri
		pos  protocol.Position
	}{
		{"unknown document", "file:///missing.mini", protocol.Position{Line: 0, Character: 1}},
		{"no word", known, protocol.Position{Line: 0, Character: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := protocol.TextDocumentPositionParams{
				TextDocument: protocol.TextDocumentIdentifier{URI: tt.uri},
				Position:     tt.pos,
			}
			if v, err := s.textDocumentCompletion(nil, &protocol.CompletionParams{TextDocumentPositionParams: at}); v != nil || err != nil {
				t.Errorf("completion = %v, %v, want nil, nil", v, err)
			}
			if v, err := s.textDocumentHover(nil, &protocol.HoverParams{TextDocumentPositionParams: at}); v != nil || err != nil {
				t.Errorf("hover = %v, %v, want nil, nil", v, err)
			}
			if v, err := s.textDocumentDefinition(nil, &protocol.DefinitionParams{TextDocumentPositionParams: at}); v != nil || err != nil {
				t.Errorf("definition = %v, %v, want nil, nil", v, err)
			}
		})
	}

	at := protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: known},
		Position:     protocol.Position{Line: 1, Character: 1},
	}
	if v, err := s.textDocumentDefinition(nil, &protocol.DefinitionParams{TextDocumentPositionParams: at}); v != nil || err != nil {
		t.Errorf("definition of undeclared zz = %v, %v, want nil, nil", v, err)
	}
}
