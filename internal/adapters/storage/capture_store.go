// Package storage persists completed capture sessions and handshake
// artifacts for later review, independent of the in-memory observation
// store (internal/adapters/sniffer/registry), which never touches disk.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
)

// CaptureStore implements a durable log of completed CaptureSession and
// Handshake records using GORM and SQLite.
type CaptureStore struct {
	db *gorm.DB
}

// SessionModel is the GORM model for a capture session.
type SessionModel struct {
	ID            string `gorm:"primaryKey"`
	TargetBSSID   string `gorm:"index"`
	TargetSSID    string
	TargetChannel int
	StartTime     time.Time
	EndTime       *time.Time
	State         string `gorm:"index"`
	EapolCount    int
	DeauthSent    int

	Handshakes []HandshakeModel `gorm:"foreignKey:SessionID"`
}

// HandshakeModel is the GORM model for a single captured handshake.
type HandshakeModel struct {
	ID         uint   `gorm:"primaryKey"`
	SessionID  string `gorm:"index"`
	BSSID      string `gorm:"index"`
	SSID       string
	ClientMAC  string `gorm:"index"`
	Kind       string
	Messages   string // JSON encoded []int
	CapturedAt time.Time
	PcapPath   string
}

// NewCaptureStore opens (creating if absent) the SQLite database at path
// and migrates the session/handshake schema.
func NewCaptureStore(path string) (*CaptureStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&SessionModel{}, &HandshakeModel{}); err != nil {
		return nil, err
	}

	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout=5000;")
	db.Exec("PRAGMA synchronous=NORMAL;")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_handshakes_bssid ON handshake_models(bssid)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_state ON session_models(state)")

	return &CaptureStore{db: db}, nil
}

// SaveSession upserts session and every handshake it carries.
func (s *CaptureStore) SaveSession(ctx context.Context, session domain.CaptureSession) error {
	model := SessionModel{
		ID:            session.ID,
		TargetBSSID:   session.TargetBSSID,
		TargetSSID:    session.TargetSSID,
		TargetChannel: session.TargetChannel,
		StartTime:     session.StartTime,
		EndTime:       session.EndTime,
		State:         string(session.State),
		EapolCount:    session.EapolCount,
		DeauthSent:    session.DeauthSent,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		for _, h := range session.Handshakes {
			if err := saveHandshake(tx, session.ID, h); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveHandshake upserts a single handshake under sessionID, keyed on
// (session, BSSID, client, kind), without touching the parent session row. Used by callers that persist handshakes as
// they are emitted rather than only at session teardown.
func (s *CaptureStore) SaveHandshake(ctx context.Context, sessionID string, h domain.Handshake) error {
	return saveHandshake(s.db.WithContext(ctx), sessionID, h)
}

func saveHandshake(tx *gorm.DB, sessionID string, h domain.Handshake) error {
	msgs, err := json.Marshal(h.Messages)
	if err != nil {
		return err
	}

	model := HandshakeModel{
		SessionID:  sessionID,
		BSSID:      h.BSSID,
		SSID:       h.SSID,
		ClientMAC:  h.ClientMAC,
		Kind:       string(h.Kind),
		Messages:   string(msgs),
		CapturedAt: h.CapturedAt,
		PcapPath:   h.PcapPath,
	}

	return tx.Where(HandshakeModel{
		SessionID: sessionID,
		BSSID:     h.BSSID,
		ClientMAC: h.ClientMAC,
		Kind:      string(h.Kind),
	}).Assign(model).FirstOrCreate(&model).Error
}

// Sessions retrieves every persisted session, most recent first.
func (s *CaptureStore) Sessions(ctx context.Context) ([]domain.CaptureSession, error) {
	var models []SessionModel
	if err := s.db.WithContext(ctx).Preload("Handshakes").Order("start_time DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	sessions := make([]domain.CaptureSession, len(models))
	for i, m := range models {
		sessions[i] = toDomainSession(m)
	}
	return sessions, nil
}

// SessionsByBSSID retrieves persisted sessions for a single target AP.
func (s *CaptureStore) SessionsByBSSID(ctx context.Context, bssid string) ([]domain.CaptureSession, error) {
	var models []SessionModel
	if err := s.db.WithContext(ctx).Preload("Handshakes").
		Where("target_bssid = ?", bssid).
		Order("start_time DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	sessions := make([]domain.CaptureSession, len(models))
	for i, m := range models {
		sessions[i] = toDomainSession(m)
	}
	return sessions, nil
}

func toDomainSession(m SessionModel) domain.CaptureSession {
	handshakes := make([]domain.Handshake, len(m.Handshakes))
	for i, hm := range m.Handshakes {
		var msgs []int
		if hm.Messages != "" {
			json.Unmarshal([]byte(hm.Messages), &msgs)
		}
		handshakes[i] = domain.Handshake{
			BSSID:      hm.BSSID,
			SSID:       hm.SSID,
			ClientMAC:  hm.ClientMAC,
			Kind:       domain.HandshakeKind(hm.Kind),
			Messages:   msgs,
			CapturedAt: hm.CapturedAt,
			PcapPath:   hm.PcapPath,
		}
	}

	return domain.CaptureSession{
		ID:            m.ID,
		TargetBSSID:   m.TargetBSSID,
		TargetSSID:    m.TargetSSID,
		TargetChannel: m.TargetChannel,
		StartTime:     m.StartTime,
		EndTime:       m.EndTime,
		State:         domain.CaptureState(m.State),
		EapolCount:    m.EapolCount,
		DeauthSent:    m.DeauthSent,
		Handshakes:    handshakes,
	}
}

// Close releases the underlying database handle.
func (s *CaptureStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
