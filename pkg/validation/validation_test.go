package validation

import (
	"kiosk-agent/internal/model"
	"testing"

	"github.com/shopspring/decimal"
)

func strPtr(s string) *string { return &s }

func TestValidateMAC(t *testing.T) {
	tests := []struct {
		name        string
		mac         string
		expectError bool
		expected    string
	}{
		{
			name:     "Valid MAC with colons",
			mac:      "AA:BB:CC:DD:EE:FF",
			expected: "AA:BB:CC:DD:EE:FF",
		},
		{
			name:     "Valid MAC with hyphens",
			mac:      "AA-BB-CC-DD-EE-FF",
			expected: "AA:BB:CC:DD:EE:FF",
		},
		{
			name:     "Valid MAC lowercase",
			mac:      "aa:bb:cc:dd:ee:ff",
			expected: "AA:BB:CC:DD:EE:FF",
		},
		{
			name:        "Invalid MAC too short",
			mac:         "AA:BB:CC:DD:EE",
			expectError: true,
		},
		{
			name:        "Invalid MAC characters",
			mac:         "ZZ:BB:CC:DD:EE:FF",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateMAC(tt.mac)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error for MAC %s, but got none", tt.mac)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error for MAC %s: %v", tt.mac, err)
			}
			if result != tt.expected {
				t.Errorf("Expected normalized MAC %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestValidateKioskAddress(t *testing.T) {
	tests := []struct {
		name        string
		ip          string
		expectError bool
	}{
		{name: "Valid IPv4", ip: "192.168.1.1"},
		{name: "Localhost fallback", ip: "localhost"},
		{name: "Invalid IP", ip: "256.256.256.256", expectError: true},
		{name: "Empty", ip: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKioskAddress(tt.ip)
			if tt.expectError && err == nil {
				t.Errorf("Expected error for address %q, but got none", tt.ip)
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error for address %q: %v", tt.ip, err)
			}
		})
	}
}

func TestSlotNumberRoundTrip(t *testing.T) {
	tests := []struct {
		n    int
		slot string
	}{
		{1, "PC001"},
		{7, "PC007"},
		{42, "PC042"},
		{1000, "PC1000"},
	}

	for _, tt := range tests {
		t.Run(tt.slot, func(t *testing.T) {
			if got := FormatSlotNumber(tt.n); got != tt.slot {
				t.Errorf("FormatSlotNumber(%d) = %s, want %s", tt.n, got, tt.slot)
			}
			n, err := ParseSlotNumber(tt.slot)
			if err != nil {
				t.Fatalf("ParseSlotNumber(%s) returned error: %v", tt.slot, err)
			}
			if n != tt.n {
				t.Errorf("ParseSlotNumber(%s) = %d, want %d", tt.slot, n, tt.n)
			}
		})
	}
}

func TestParseSlotNumber_Invalid(t *testing.T) {
	for _, slot := range []string{"", "PC", "PC000", "pc001", "KIOSK-1", "PC-01"} {
		if _, err := ParseSlotNumber(slot); err == nil {
			t.Errorf("Expected error for slot %q, but got none", slot)
		}
	}
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name        string
		amount      string
		expectError bool
	}{
		{name: "Whole amount", amount: "100"},
		{name: "Two decimals", amount: "12.50"},
		{name: "Zero", amount: "0", expectError: true},
		{name: "Negative", amount: "-5", expectError: true},
		{name: "Three decimals", amount: "1.005", expectError: true},
		{name: "Too large", amount: "99999999999", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount))
			if tt.expectError && err == nil {
				t.Errorf("Expected error for amount %s, but got none", tt.amount)
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error for amount %s: %v", tt.amount, err)
			}
		})
	}
}

func TestValidateCredentials(t *testing.T) {
	if errs := ValidateCredentials("player@example.com", "secret"); len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
	if errs := ValidateCredentials("Player <player@example.com>", ""); len(errs) != 2 {
		t.Errorf("Expected 2 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateComputerInput(t *testing.T) {
	tests := []struct {
		name           string
		computer       model.Computer
		expectedErrors int
	}{
		{
			name: "Valid computer",
			computer: model.Computer{
				MachineID:  "4c4c4544-0042",
				Name:       "kiosk-07",
				MACAddress: strPtr("aa:bb:cc:dd:ee:ff"),
				IPAddress:  "192.168.1.7",
				SlotNumber: "PC007",
			},
		},
		{
			name: "Valid computer without MAC on localhost",
			computer: model.Computer{
				MachineID: "4c4c4544-0042",
				Name:      "kiosk-07",
				IPAddress: "localhost",
			},
		},
		{
			name: "Multiple validation errors",
			computer: model.Computer{
				MACAddress: strPtr("invalid-mac"),
				IPAddress:  "invalid-ip",
				SlotNumber: "7",
			},
			expectedErrors: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errors := ValidateComputerInput(&tt.computer)

			if len(errors) != tt.expectedErrors {
				t.Errorf("Expected %d errors, got %d: %v", tt.expectedErrors, len(errors), errors)
			}
		})
	}
}

func TestValidateComputerInput_NormalizesMAC(t *testing.T) {
	computer := model.Computer{
		MachineID:  "id",
		Name:       "kiosk",
		MACAddress: strPtr("aa-bb-cc-dd-ee-ff"),
		IPAddress:  "10.0.0.2",
	}

	if errs := ValidateComputerInput(&computer); len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if *computer.MACAddress != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Expected normalized MAC, got %s", *computer.MACAddress)
	}
}
