package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/focusguild/focusguild/internal/common/middleware"
	"github.com/focusguild/focusguild/internal/common/uuid"
	"github.com/focusguild/focusguild/internal/common/version"
	"github.com/focusguild/focusguild/internal/tracker/db/dbtest"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
	"github.com/focusguild/focusguild/internal/tracker/presence"
)

type fixedSessions struct{ count int }

func (f fixedSessions) ActiveCount(guildID int64) int { return f.count }

type fixedScans struct{ ts time.Time }

func (f fixedScans) LastScan(guildID int64) (time.Time, bool) {
	return f.ts, !f.ts.IsZero()
}

func newTestServer(t *testing.T) (*Server, *dbtest.Fake, *presence.MemoryRoster) {
	t.Helper()
	store := dbtest.NewFake()
	roster := presence.NewMemoryRoster()
	scanTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := New(roster, fixedSessions{count: 2}, fixedScans{ts: scanTime}, store, true)
	srv.now = func() time.Time { return scanTime }
	return srv, store, roster
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestReady(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestVersion(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/version")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, version.Version, gjson.Get(rec.Body.String(), "version").String())
}

func TestStatus(t *testing.T) {
	srv, store, roster := newTestServer(t)
	ctx := context.Background()

	roster.Seed([]presence.Member{
		{GuildID: 42, MemberID: 1, RoomID: 100},
		{GuildID: 42, MemberID: 2, RoomID: 100},
		{GuildID: 42, MemberID: 3, RoomID: 101},
	})

	slot := &models.Slot{
		SlotID:  uuid.New(),
		GuildID: 42,
		StartAt: time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.InsertSlots(ctx, []*models.Slot{slot}))
	require.NoError(t, store.InsertReservations(ctx, []*models.Reservation{
		{SlotID: slot.SlotID, MemberID: 1, Paid: 10},
	}))

	rec := get(t, srv, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Equal(t, version.Version, gjson.Get(body, "version").String())
	require.EqualValues(t, 1, gjson.Get(body, "guilds.#").Int())
	assert.Equal(t, "42", gjson.Get(body, "guilds.0.guild_id").String())
	assert.EqualValues(t, 3, gjson.Get(body, "guilds.0.present_members").Int())
	assert.EqualValues(t, 2, gjson.Get(body, "guilds.0.active_sessions").Int())
	assert.EqualValues(t, 1, gjson.Get(body, "guilds.0.upcoming_slots").Int())
	assert.Equal(t, "2024-05-01T12:00:00Z", gjson.Get(body, "guilds.0.last_scan").String())
}

func TestStatusNoGuilds(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, gjson.Get(rec.Body.String(), "guilds.#").Int())
}
