package repo

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tbourn/go-menu-backend/internal/domain"
)

func TestInstances_CreateGetUpdateList(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	st, _ := CreateStore(ctx, db, "wa", "WA")
	other, _ := CreateStore(ctx, db, "wb", "WB")

	w := &domain.WhatsAppInstance{StoreID: st.ID, InstanceKey: "k1", APIToken: "tok", APIHost: "https://api.test", Status: domain.InstanceConnecting}
	if err := CreateInstance(ctx, db, w); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	w2 := &domain.WhatsAppInstance{StoreID: other.ID, InstanceKey: "k2", APIToken: "tok", APIHost: "https://api.test", Status: domain.InstanceConnected}
	if err := CreateInstance(ctx, db, w2); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	dup := &domain.WhatsAppInstance{StoreID: st.ID, InstanceKey: "k3", APIToken: "tok", APIHost: "h"}
	if err := CreateInstance(ctx, db, dup); err == nil {
		t.Fatalf("expected unique violation on store_id")
	}

	got, err := GetInstanceByStore(ctx, db, st.ID)
	if err != nil || got.InstanceKey != "k1" {
		t.Fatalf("GetInstanceByStore: %v %+v", err, got)
	}
	if _, err := GetInstanceByKey(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetInstanceByKey missing: %v", err)
	}

	if err := UpdateInstance(ctx, db, st.ID, map[string]any{"status": domain.InstanceConnected, "phone_number": "5511999990000"}); err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}
	if err := UpdateInstance(ctx, db, "nope", map[string]any{"status": domain.InstanceConnected}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateInstance missing: %v", err)
	}

	connected, err := ListInstancesByStatus(ctx, db, domain.InstanceConnected)
	if err != nil || len(connected) != 2 {
		t.Fatalf("ListInstancesByStatus: %v %d", err, len(connected))
	}
}

func TestWatermark_LoadSaveRoundTrip(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	st, _ := CreateStore(ctx, db, "wm", "WM")
	if err := CreateInstance(ctx, db, &domain.WhatsAppInstance{StoreID: st.ID, InstanceKey: "k", APIToken: "t", APIHost: "h"}); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	wm, err := LoadWatermark(ctx, db, "k")
	if err != nil || !wm.At.IsZero() || wm.MessageID != "" || len(wm.Recent) != 0 {
		t.Fatalf("fresh watermark should be empty: %v %+v", err, wm)
	}

	at := time.Date(2025, 6, 1, 10, 0, 5, 0, time.UTC)
	want := Watermark{MessageID: "m2", At: at, Recent: []string{"m1", "m2"}}
	if err := SaveWatermark(ctx, db, "k", want); err != nil {
		t.Fatalf("SaveWatermark: %v", err)
	}
	got, err := LoadWatermark(ctx, db, "k")
	if err != nil {
		t.Fatalf("LoadWatermark: %v", err)
	}
	if got.MessageID != "m2" || !got.At.Equal(at) || !reflect.DeepEqual(got.Recent, want.Recent) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// ids without a provider timestamp keep the column NULL
	idsOnly := Watermark{MessageID: "m3", Recent: []string{"m3"}}
	if err := SaveWatermark(ctx, db, "k", idsOnly); err != nil {
		t.Fatalf("SaveWatermark ids only: %v", err)
	}
	got, err = LoadWatermark(ctx, db, "k")
	if err != nil || !got.At.IsZero() || !reflect.DeepEqual(got.Recent, []string{"m3"}) {
		t.Fatalf("ids-only round trip: %v %+v", err, got)
	}

	if err := SaveWatermark(ctx, db, "missing", want); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveWatermark missing: %v", err)
	}
	if _, err := LoadWatermark(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadWatermark missing: %v", err)
	}
}
