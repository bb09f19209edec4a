package booking

import (
	"strconv"
	"time"

	"github.com/tidwall/sjson"

	"github.com/focusguild/focusguild/internal/tracker/db/models"
)

// statusSnapshot renders a slot's displayed status as JSON. Member ids are
// serialized as strings; 64-bit ids are not safe in JSON numbers.
func statusSnapshot(slot *models.Slot, reservations []*models.Reservation, now time.Time) []byte {
	doc := []byte(`{}`)
	doc, _ = sjson.SetBytes(doc, "slot_id", slot.SlotID.String())
	doc, _ = sjson.SetBytes(doc, "start_at", slot.StartAt.UTC().Format(time.RFC3339))
	doc, _ = sjson.SetBytes(doc, "updated_at", now.UTC().Format(time.RFC3339))
	doc, _ = sjson.SetBytes(doc, "open", slot.Open())
	if slot.Open() {
		doc, _ = sjson.SetBytes(doc, "room_id", strconv.FormatInt(slot.RoomID.Int64, 10))
	}
	doc, _ = sjson.SetBytes(doc, "attendees.count", len(reservations))
	members := []string{}
	for _, r := range reservations {
		members = append(members, strconv.FormatInt(r.MemberID, 10))
	}
	doc, _ = sjson.SetBytes(doc, "attendees.members", members)
	return doc
}
