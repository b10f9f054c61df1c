package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/neoguard/internal/events"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500

	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

func eventLimit(r *http.Request) int {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	return limit
}

// handleListEvents serves recent events, from the archive when one is
// configured and from the in-process ring otherwise.
func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := eventLimit(r)
	eventType := events.EventType(r.URL.Query().Get("type"))

	if a.archive != nil {
		var (
			list []events.Event
			err  error
		)
		if eventType != "" {
			list, err = a.archive.RecentByType(r.Context(), eventType, limit)
		} else {
			list, err = a.archive.Recent(r.Context(), limit)
		}
		if err == nil {
			writeJSON(w, http.StatusOK, list)
			return
		}
		a.log.WithContext(r.Context()).WithError(err).Warn("event archive query failed, serving ring buffer")
	}

	if eventType != "" {
		writeJSON(w, http.StatusOK, a.app.Events.RecentByType(eventType, limit))
		return
	}
	writeJSON(w, http.StatusOK, a.app.Events.Recent(limit))
}

func (a *API) handleVaultEvents(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	limit := eventLimit(r)

	if a.archive != nil {
		list, err := a.archive.RecentByVault(r.Context(), address, limit)
		if err == nil {
			writeJSON(w, http.StatusOK, list)
			return
		}
		a.log.WithContext(r.Context()).WithError(err).Warn("event archive query failed, serving ring buffer")
	}

	writeJSON(w, http.StatusOK, a.app.Events.RecentByVault(address, limit))
}

// handleEventStream upgrades to a websocket and pushes matching events as
// they happen. A slow consumer loses events rather than backpressuring
// the services.
func (a *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	vaultFilter := r.URL.Query().Get("vault")
	typeFilter := events.EventType(r.URL.Query().Get("type"))

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := make(chan events.Event, 64)
	unsubscribe := a.app.Events.SubscribeFiltered(func(e events.Event) bool {
		if vaultFilter != "" && e.Vault != vaultFilter {
			return false
		}
		if typeFilter != "" && e.Type != typeFilter {
			return false
		}
		return true
	}, func(e events.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer unsubscribe()

	// Reader goroutine notices the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case e := <-ch:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
