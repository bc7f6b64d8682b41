package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a status transition is rejected because the
// row is no longer in the state the caller expected. Recommendation rows are
// append-only history and are never silently overwritten.
var ErrConflict = errors.New("conflicting status transition")

// Recommendation lifecycle states. A row only ever moves forward:
// pending → generated|failed, generated → approved|declined|regenerated.
const (
	StatusPending     = "pending"
	StatusGenerated   = "generated"
	StatusApproved    = "approved"
	StatusDeclined    = "declined"
	StatusRegenerated = "regenerated"
	StatusFailed      = "failed"
)

// Zone is a geographic land unit with its own sensors and recommendations.
type Zone struct {
	ID        string
	Name      string
	Latitude  *float64
	Longitude *float64
	CreatedAt time.Time
}

// SensorReading is one time-stamped environmental measurement for a zone.
// Readings are immutable once ingested. Nil pointers mean the sensor did
// not report that field.
type SensorReading struct {
	ID           string
	ZoneID       string
	Timestamp    time.Time
	SoilMoisture *float64
	PH           *float64
	Temperature  *float64
	Phosphorus   *float64
	Potassium    *float64
	Humidity     *float64
	Nitrogen     *float64
	Rainfall     *float64
	Source       string
	CreatedAt    time.Time
}

// Field returns the value pointer for a named numeric field, or nil for an
// unknown field name.
func (r SensorReading) Field(name string) *float64 {
	switch name {
	case "soil_moisture":
		return r.SoilMoisture
	case "ph":
		return r.PH
	case "temperature":
		return r.Temperature
	case "phosphorus":
		return r.Phosphorus
	case "potassium":
		return r.Potassium
	case "humidity":
		return r.Humidity
	case "nitrogen":
		return r.Nitrogen
	case "rainfall":
		return r.Rainfall
	default:
		return nil
	}
}

// Recommendation is one row of the append-only recommendation history for
// a zone. Crops and DataUsed are JSON stored as text.
type Recommendation struct {
	ID            string
	ZoneID        string
	WindowStart   time.Time
	WindowEnd     time.Time
	Status        string
	Response      string
	CropsJSON     string
	DataUsedJSON  string
	Confidence    float64
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ApprovedAt    *time.Time
}

// ChatMessage is one archived chat exchange line. The live bounded thread
// state is held in memory by the chat package; this table is the durable
// transcript.
type ChatMessage struct {
	ID        string
	ThreadKey string
	Role      string // "user" or "assistant"
	Text      string
	CreatedAt time.Time
}

// Job is one background work item in the SQLite job queue.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
