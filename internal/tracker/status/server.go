// Package status exposes the daemon's ops HTTP surface: readiness, version,
// and a per-guild tracking snapshot.
package status

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/focusguild/focusguild/internal/common/httpx"
	"github.com/focusguild/focusguild/internal/common/middleware"
	"github.com/focusguild/focusguild/internal/common/version"
	"github.com/focusguild/focusguild/internal/tracker/db"
	"github.com/focusguild/focusguild/internal/tracker/presence"
)

// Sessions is the session-count view the server reads.
type Sessions interface {
	ActiveCount(guildID int64) int
}

// Scans is the scan-timestamp view the server reads.
type Scans interface {
	LastScan(guildID int64) (time.Time, bool)
}

// Server serves the ops endpoints.
type Server struct {
	router   chi.Router
	roster   presence.Roster
	sessions Sessions
	scans    Scans
	slots    db.SlotStore
	now      func() time.Time
}

// New assembles the ops router.
func New(roster presence.Roster, sessions Sessions, scans Scans, slots db.SlotStore, handleCORS bool) *Server {
	s := &Server{
		roster:   roster,
		sessions: sessions,
		scans:    scans,
		slots:    slots,
		now:      time.Now,
	}

	r := chi.NewRouter()
	if handleCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.RequestLogger)
	r.Use(middleware.PanicHandler)

	r.Get("/ready", s.ready)
	r.Get("/version", s.version)
	r.Get("/status", s.status)

	s.router = r
	return s
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	httpx.SendJson(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	httpx.SendJson(r.Context(), w, http.StatusOK, map[string]string{"version": version.Version})
}

type guildStatus struct {
	GuildID        string `json:"guild_id"`
	PresentMembers int    `json:"present_members"`
	ActiveSessions int    `json:"active_sessions"`
	LastScan       string `json:"last_scan,omitempty"`
	UpcomingSlots  int    `json:"upcoming_slots"`
}

type statusRsp struct {
	Version string        `json:"version"`
	Guilds  []guildStatus `json:"guilds"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rsp := statusRsp{Version: version.Version, Guilds: []guildStatus{}}

	for _, guildID := range s.roster.Guilds() {
		gs := guildStatus{
			GuildID:        strconv.FormatInt(guildID, 10),
			PresentMembers: len(s.roster.Members(guildID)),
			ActiveSessions: s.sessions.ActiveCount(guildID),
		}
		if ts, ok := s.scans.LastScan(guildID); ok {
			gs.LastScan = ts.UTC().Format(time.RFC3339)
		}
		counts, err := s.slots.AttendeeCounts(ctx, guildID, s.now())
		if err != nil {
			httpx.SendError(w, err)
			return
		}
		gs.UpcomingSlots = len(counts)
		rsp.Guilds = append(rsp.Guilds, gs)
	}

	httpx.SendJson(ctx, w, http.StatusOK, rsp)
}

// ListenAndServe runs the ops server until ctx is canceled.
func ListenAndServe(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
