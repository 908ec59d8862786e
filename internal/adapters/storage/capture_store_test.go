package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
)

// setupInMemoryStore creates a new CaptureStore backed by an in-memory
// SQLite database for testing.
func setupInMemoryStore(t *testing.T) *CaptureStore {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&SessionModel{}, &HandshakeModel{})
	require.NoError(t, err)

	return &CaptureStore{db: db}
}

func TestSaveAndGetSession(t *testing.T) {
	store := setupInMemoryStore(t)

	session := domain.CaptureSession{
		ID:            "sess-1",
		TargetBSSID:   "aa:bb:cc:dd:ee:ff",
		TargetSSID:    "TestNet",
		TargetChannel: 6,
		StartTime:     time.Now(),
		State:         domain.CaptureSuccess,
		EapolCount:    4,
		Handshakes: []domain.Handshake{
			{
				BSSID:      "aa:bb:cc:dd:ee:ff",
				SSID:       "TestNet",
				ClientMAC:  "11:22:33:44:55:66",
				Kind:       domain.HandshakeKind4Way,
				Messages:   []int{1, 2, 3, 4},
				CapturedAt: time.Now(),
				PcapPath:   "/tmp/handshake.pcap",
			},
		},
	}

	err := store.SaveSession(context.Background(), session)
	assert.NoError(t, err)

	stored, err := store.SessionsByBSSID(context.Background(), "aa:bb:cc:dd:ee:ff")
	assert.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "TestNet", stored[0].TargetSSID)
	require.Len(t, stored[0].Handshakes, 1)
	assert.Equal(t, domain.HandshakeKind4Way, stored[0].Handshakes[0].Kind)
	assert.Equal(t, []int{1, 2, 3, 4}, stored[0].Handshakes[0].Messages)
}

func TestSaveSession_Update(t *testing.T) {
	store := setupInMemoryStore(t)

	session := domain.CaptureSession{
		ID:          "sess-2",
		TargetBSSID: "00:00:00:00:00:01",
		State:       domain.CaptureWaiting,
		StartTime:   time.Now(),
	}
	require.NoError(t, store.SaveSession(context.Background(), session))

	session.State = domain.CaptureTimeout
	end := time.Now()
	session.EndTime = &end
	require.NoError(t, store.SaveSession(context.Background(), session))

	stored, err := store.Sessions(context.Background())
	assert.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.CaptureTimeout, stored[0].State)
	assert.NotNil(t, stored[0].EndTime)
}

func TestSaveHandshake_IdempotentPerClient(t *testing.T) {
	store := setupInMemoryStore(t)

	require.NoError(t, store.SaveSession(context.Background(), domain.CaptureSession{
		ID:          "sess-3",
		TargetBSSID: "aa:aa:aa:aa:aa:aa",
		StartTime:   time.Now(),
		State:       domain.CaptureCapturing,
	}))

	h := domain.Handshake{
		BSSID:      "aa:aa:aa:aa:aa:aa",
		ClientMAC:  "bb:bb:bb:bb:bb:bb",
		Kind:       domain.HandshakeKind4Way,
		Messages:   []int{1, 2},
		CapturedAt: time.Now(),
	}

	require.NoError(t, store.SaveHandshake(context.Background(), "sess-3", h))
	h.Messages = []int{1, 2, 3, 4}
	require.NoError(t, store.SaveHandshake(context.Background(), "sess-3", h))

	stored, err := store.SessionsByBSSID(context.Background(), "aa:aa:aa:aa:aa:aa")
	assert.NoError(t, err)
	require.Len(t, stored, 1)
	require.Len(t, stored[0].Handshakes, 1, "same bssid/client/kind must upsert, not duplicate")
	assert.Equal(t, []int{1, 2, 3, 4}, stored[0].Handshakes[0].Messages)
}

func TestSessions_OrderedMostRecentFirst(t *testing.T) {
	store := setupInMemoryStore(t)

	older := domain.CaptureSession{ID: "s-old", TargetBSSID: "a", StartTime: time.Now().Add(-time.Hour), State: domain.CaptureSuccess}
	newer := domain.CaptureSession{ID: "s-new", TargetBSSID: "b", StartTime: time.Now(), State: domain.CaptureSuccess}

	require.NoError(t, store.SaveSession(context.Background(), older))
	require.NoError(t, store.SaveSession(context.Background(), newer))

	stored, err := store.Sessions(context.Background())
	assert.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "s-new", stored[0].ID)
	assert.Equal(t, "s-old", stored[1].ID)
}

func TestSessionsByBSSID_Filters(t *testing.T) {
	store := setupInMemoryStore(t)

	require.NoError(t, store.SaveSession(context.Background(), domain.CaptureSession{
		ID: "s1", TargetBSSID: "aa:aa:aa:aa:aa:aa", StartTime: time.Now(), State: domain.CaptureSuccess,
	}))
	require.NoError(t, store.SaveSession(context.Background(), domain.CaptureSession{
		ID: "s2", TargetBSSID: "bb:bb:bb:bb:bb:bb", StartTime: time.Now(), State: domain.CaptureTimeout,
	}))

	stored, err := store.SessionsByBSSID(context.Background(), "bb:bb:bb:bb:bb:bb")
	assert.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "s2", stored[0].ID)
}
