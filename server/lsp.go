// Package server exposes the filter compiler to editors over LSP.
package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/tracefilter/cache"
	"github.com/chazu/tracefilter/compiler"
	"github.com/chazu/tracefilter/config"
	"github.com/chazu/tracefilter/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "tracefilter-lsp"

// LspServer checks filter documents as they are edited. Each document holds
// one filter expression.
type LspServer struct {
	cache    *cache.Cache
	events   []string
	contexts []string

	mu   sync.Mutex
	docs map[string]string

	handler protocol.Handler
	server  *glspserver.Server
	version string
	log     commonlog.Logger
}

// NewLSP creates an LSP server compiling through c. Completion candidates
// come from cfg.
func NewLSP(c *cache.Cache, cfg *config.Config) *LspServer {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &LspServer{
		cache:    c,
		events:   sortedCopy(cfg.Fields.Event),
		contexts: sortedCopy(cfg.Fields.Context),
		docs:     make(map[string]string),
		version:  "0.1.0",
		log:      commonlog.GetLogger("tracefilter.lsp"),
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
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run serves on stdio until the client goes away.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "tracefilter LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{".", "$"},
	}

	capabilities.HoverProvider = true

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
	st := s.cache.Stats()
	s.log.Infof("shutting down, cache hits %d misses %d", st.Hits, st.Misses)
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.setDocument(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// Full sync: only the final change matters.
	n := len(params.ContentChanges)
	if n == 0 {
		return nil
	}
	if whole, ok := params.ContentChanges[n-1].(protocol.TextDocumentContentChangeEventWhole); ok {
		s.setDocument(ctx, params.TextDocument.URI, whole.Text)
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()
	s.notifyDiagnostics(ctx, uri, []protocol.Diagnostic{})
	return nil
}

func (s *LspServer) setDocument(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()
	s.publishDiagnostics(ctx, uri, text)
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return s.complete(extractPrefix(text, params.Position)), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(text, word), nil
}

func (s *LspServer) complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label, insert, detail string, kind protocol.CompletionItemKind) {
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &insert,
		})
	}

	if strings.HasPrefix(prefix, "$ctx.") {
		name := strings.TrimPrefix(prefix, "$ctx.")
		for _, c := range s.contexts {
			if strings.HasPrefix(c, name) {
				add("$ctx."+c, c, "context field", protocol.CompletionItemKindField)
			}
		}
		return items
	}
	if strings.HasPrefix(prefix, "$") {
		for _, scope := range []string{"$ctx", "$app"} {
			if strings.HasPrefix(scope, prefix) {
				add(scope, strings.TrimPrefix(scope, "$")+".", "scope", protocol.CompletionItemKindModule)
			}
		}
		return items
	}
	if strings.Contains(prefix, ".") {
		// Nested event fields are not described by the configuration.
		return nil
	}
	for _, f := range s.events {
		if strings.HasPrefix(f, prefix) {
			add(f, f, "event field", protocol.CompletionItemKindField)
		}
	}

	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func (s *LspServer) hover(text, word string) *protocol.Hover {
	prog, err := s.cache.Compile(text)
	if err != nil {
		return nil
	}

	var b strings.Builder
	if slot, ok := fieldSlot(prog, word); ok {
		fmt.Fprintf(&b, "**%s**: field slot %d\n\n", word, slot)
	}
	b.WriteString("```\n")
	b.WriteString(prog.Disassemble())
	b.WriteString("```\n")

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// fieldSlot finds the field table entry whose path starts with word.
func fieldSlot(p *bytecode.Program, word string) (int, bool) {
	for i, f := range p.Fields {
		if f.Path == word || strings.HasPrefix(f.Path, word+".") || strings.HasPrefix(f.Path, word+"[") {
			return i, true
		}
	}
	return 0, false
}

func (s *LspServer) diagnose(text string) []protocol.Diagnostic {
	_, err := s.cache.Compile(text)
	if err == nil {
		return []protocol.Diagnostic{}
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	d := protocol.Diagnostic{Severity: &severity, Source: &source, Message: err.Error()}
	if ce, ok := compiler.AsError(err); ok {
		code := protocol.IntegerOrString{Value: ce.Stage.String()}
		d.Code = &code
		d.Message = ce.Message
		if ce.Offset >= 0 {
			start := positionAt(text, ce.Offset)
			end := start
			end.Character++
			d.Range = protocol.Range{Start: start, End: end}
		}
	}
	return []protocol.Diagnostic{d}
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	s.notifyDiagnostics(ctx, uri, s.diagnose(text))
}

func (s *LspServer) notifyDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, diags []protocol.Diagnostic) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

// positionAt converts a byte offset into a zero-based line and a character
// counted in UTF-16 code units.
func positionAt(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}
	var line, col protocol.UInteger
	for _, r := range text[:offset] {
		if r == '\n' {
			line++
			col = 0
			continue
		}
		col += protocol.UInteger(utf16.RuneLen(r))
	}
	return protocol.Position{Line: line, Character: col}
}

func isPathChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '$' || ch == '.' || ch == ':'
}

func currentLine(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := lines[pos.Line]
	return line, byteColumn(line, int(pos.Character)), true
}

// byteColumn maps a UTF-16 character offset in line to a byte offset.
func byteColumn(line string, units int) int {
	for i, r := range line {
		if units <= 0 {
			return i
		}
		units -= utf16.RuneLen(r)
	}
	return len(line)
}

// extractPrefix returns the field path fragment before the cursor for
// completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := currentLine(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isPathChar(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the field path under the cursor, without a trailing
// member separator.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := currentLine(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isPathChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isPathChar(rune(line[end])) {
		end++
	}
	return strings.TrimRight(line[start:end], ".:")
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func boolPtr(b bool) *bool {
	return &b
}
