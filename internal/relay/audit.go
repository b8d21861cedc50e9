package relay

import (
	"context"
	"log/slog"

	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"

	"github.com/single-spa-inspector-pro/sspa-mcp/internal/logging"
)

// stateChangingCommands run code in the inspected app or change what it
// sees: the page, its cookies and storage, its input or its user agent.
// single-spa apps share one page, so any of these touches every mounted app.
var stateChangingCommands = setOf(
	cdpruntime.CommandEvaluate,
	cdpruntime.CommandCallFunctionOn,
	page.CommandNavigate,
	page.CommandReload,
	page.CommandSetDocumentContent,
	network.CommandSetCookie,
	network.CommandDeleteCookies,
	network.CommandClearBrowserCookies,
	network.CommandSetExtraHTTPHeaders,
	storage.CommandClearDataForOrigin,
	input.CommandDispatchKeyEvent,
	input.CommandDispatchMouseEvent,
	dom.CommandSetAttributeValue,
	dom.CommandSetOuterHTML,
	fetch.CommandFulfillRequest,
	debugger.CommandSetBreakpointByURL,
	emulation.CommandSetUserAgentOverride,
)

func setOf(methods ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return set
}

// auditLogger records every command forwarded to the extension.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{logger: logger}
}

func (l *auditLogger) logCommand(relayID int64, req *PendingRequest) {
	if l == nil {
		return
	}

	attrs := []any{
		"id", relayID,
		logging.ShortID("client", req.ClientID),
		"method", req.Method,
	}
	if req.SessionID != "" {
		attrs = append(attrs, logging.ShortID("session", req.SessionID))
	}

	level, msg := slog.LevelInfo, "cdp_command"
	if _, ok := stateChangingCommands[req.Method]; ok {
		level, msg = slog.LevelWarn, "cdp_state_changing_command"
	}
	l.logger.Log(context.Background(), level, msg, attrs...)
}
