package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LocalhostAddress is reported when the kiosk has no non-loopback IPv4 address.
const LocalhostAddress = "localhost"

// ComputerStatus is the scheduling state of a kiosk as seen by the operator console.
type ComputerStatus string

const (
	ComputerAvailable   ComputerStatus = "available"
	ComputerInUse       ComputerStatus = "in-use"
	ComputerMaintenance ComputerStatus = "maintenance"
	ComputerOffline     ComputerStatus = "offline"
)

// Computer represents one physical kiosk.
type Computer struct {
	ID               uuid.UUID      `json:"id"`
	MachineID        string         `json:"machine_id"`
	SlotNumber       string         `json:"computer_number"`
	Name             string         `json:"name"`
	IPAddress        string         `json:"ip_address"`
	MACAddress       *string        `json:"mac_address"`
	Status           ComputerStatus `json:"status"`
	Specifications   Specs          `json:"specifications"`
	CurrentSessionID *uuid.UUID     `json:"current_session_id"`
	LastSeen         time.Time      `json:"last_seen"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// CPU is one logical processor in a specs snapshot.
type CPU struct {
	Model    string  `json:"model"`
	SpeedMHz float64 `json:"speed"`
}

// Specs is a point-in-time hardware and OS snapshot.
type Specs struct {
	Platform    string `json:"platform"`
	Release     string `json:"release"`
	Arch        string `json:"arch"`
	CPUs        []CPU  `json:"cpus"`
	TotalMemory uint64 `json:"totalMemory"`
	FreeMemory  uint64 `json:"freeMemory"`
}

// Value stores the snapshot as a JSON document.
func (s Specs) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan reads a JSON document column into the snapshot.
func (s *Specs) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = Specs{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into Specs", src)
	}
}

// Heartbeat is the liveness payload refreshed on every registration tick.
type Heartbeat struct {
	IPAddress      string
	MACAddress     *string
	Specifications Specs
	LastSeen       time.Time
}
