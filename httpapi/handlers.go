package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/talimy/notify"
	"github.com/talimy/notify/dlq"
	"github.com/talimy/notify/id"
	"github.com/talimy/notify/notification"
)

func withActor(ctx context.Context, a notify.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func actorFrom(ctx context.Context) notify.Actor {
	a, _ := ctx.Value(actorKey{}).(notify.Actor)
	return a
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var in notification.SendInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res, err := s.notifications.Send(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := notification.ListQuery{
		TenantID:   r.URL.Query().Get("tenantId"),
		UserID:     r.URL.Query().Get("userId"),
		Type:       notification.Type(r.URL.Query().Get("type")),
		UnreadOnly: r.URL.Query().Get("unreadOnly") == "true",
		Search:     r.URL.Query().Get("search"),
		SortAsc:    r.URL.Query().Get("sortOrder") == "asc",
	}
	switch r.URL.Query().Get("sortBy") {
	case "updatedAt":
		q.SortBy = notification.SortUpdatedAt
	default:
		q.SortBy = notification.SortCreatedAt
	}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		q.Page = page
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		q.Limit = limit
	}

	res, err := s.notifications.List(r.Context(), actorFrom(r.Context()), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	scope := notification.UnreadScope{
		TenantID: r.URL.Query().Get("tenantId"),
		UserID:   r.URL.Query().Get("userId"),
	}
	count, err := s.notifications.UnreadCount(r.Context(), actorFrom(r.Context()), scope)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ntfID, err := id.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	var in notification.MarkReadInput
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	n, err := s.notifications.MarkRead(r.Context(), actorFrom(r.Context()), ntfID, in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	opts := dlq.ListOpts{Queue: r.URL.Query().Get("queue")}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		opts.Offset = offset
	}

	entries, err := s.deadLetters.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	count, err := s.deadLetters.Count(r.Context(), opts.Queue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "total": count})
}

func (s *Server) handleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	e, err := s.deadLetters.Get(r.Context(), entryID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
