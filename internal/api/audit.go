package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/meshbridge/internal/audit"
)

// auditWriteTimeout bounds one command log insert.
const auditWriteTimeout = 2 * time.Second

// recordCommand appends a command to the audit log, if one is configured.
// Failures are logged and never change the response.
func (s *Server) recordCommand(r *http.Request, action, target string, details map[string]any, cmdErr error) {
	if s.audit == nil {
		return
	}

	entry := &audit.Entry{
		Action:  action,
		Target:  target,
		Source:  audit.SourceAPI,
		Outcome: audit.OutcomeOK,
		Details: details,
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		entry.Subject = claims.Subject
	}
	if cmdErr != nil {
		entry.Outcome = audit.OutcomeError
		entry.Error = cmdErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("recording command failed", "action", action, "target", target, "error", err)
	}
}

// entityTarget names an address for the log: the entity key when the
// session knows it, otherwise "address/{n}".
func (s *Server) entityTarget(address int) string {
	if es, err := s.session.Entity(address); err == nil {
		return es.Key
	}
	return "address/" + strconv.Itoa(address)
}

// handleListAudit returns a page of the command log, newest first.
//
// Query parameters: action, target, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Target: q.Get("target"),
	}

	var ok bool
	if filter.Limit, ok = queryInt(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(w, q.Get("offset"), "offset"); !ok {
		return
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing command log failed", "error", err)
		writeInternalError(w, "failed to list command log")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// queryInt parses an optional non-negative integer parameter. An empty
// value is zero.
func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, "invalid "+name+": "+raw)
		return 0, false
	}
	return n, true
}
