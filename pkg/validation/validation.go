package validation

import (
	"fmt"
	"kiosk-agent/internal/model"
	"net"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MAC address validation constants
const (
	MACAddressLength = 17 // XX:XX:XX:XX:XX:XX format
)

// Slot number constants
const (
	SlotPrefix    = "PC"
	SlotDigits    = 3
	MaxAmountText = 12
)

var (
	macRegex  = regexp.MustCompile(`^([0-9A-F]{2}:){5}([0-9A-F]{2})$`)
	slotRegex = regexp.MustCompile(`^PC(\d+)$`)
)

// ValidateMAC validates a MAC address format and returns normalized version
func ValidateMAC(mac string) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(mac, " ", ""))
	normalized = strings.ReplaceAll(normalized, "-", ":")

	if !macRegex.MatchString(normalized) {
		return "", fmt.Errorf("invalid MAC address format: %s", mac)
	}

	return normalized, nil
}

// ValidateIP validates an IP address format (IPv4 or IPv6)
func ValidateIP(ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid IP address format: %s", ip)
	}
	return nil
}

// ValidateKioskAddress accepts a routable IP or the "localhost" fallback reported
// when the kiosk has no LAN address.
func ValidateKioskAddress(ip string) error {
	if ip == model.LocalhostAddress {
		return nil
	}
	return ValidateIP(ip)
}

// ValidateComputerName validates computer name
func ValidateComputerName(name string) error {
	if name == "" {
		return fmt.Errorf("computer name is required")
	}

	if len(name) > 255 {
		return fmt.Errorf("computer name cannot exceed 255 characters")
	}

	return nil
}

// ValidateRequired checks if a string field is not empty
func ValidateRequired(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateEmail checks the address is a bare RFC 5322 address
func ValidateEmail(email string) error {
	if err := ValidateRequired("email", email); err != nil {
		return err
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address: %s", email)
	}
	return nil
}

// ValidateCredentials validates a sign-in request
func ValidateCredentials(email, password string) []string {
	var errors []string
	if err := ValidateEmail(email); err != nil {
		errors = append(errors, err.Error())
	}
	if err := ValidateRequired("password", password); err != nil {
		errors = append(errors, err.Error())
	}
	return errors
}

// ValidateAmount checks a currency amount is positive with at most two decimal places
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("amount cannot have more than 2 decimal places")
	}
	if len(amount.StringFixed(2)) > MaxAmountText {
		return fmt.Errorf("amount is too large")
	}
	return nil
}

// FormatSlotNumber renders a slot index as a zero-padded label, e.g. 7 -> PC007
func FormatSlotNumber(n int) string {
	return fmt.Sprintf("%s%0*d", SlotPrefix, SlotDigits, n)
}

// ParseSlotNumber extracts the numeric suffix of a slot label
func ParseSlotNumber(slot string) (int, error) {
	m := slotRegex.FindStringSubmatch(slot)
	if m == nil {
		return 0, fmt.Errorf("invalid slot number format: %s", slot)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid slot number format: %s", slot)
	}
	return n, nil
}

// ValidateComputerInput validates a registration record and normalizes its MAC address
func ValidateComputerInput(computer *model.Computer) []string {
	var errors []string

	if err := ValidateRequired("machine id", computer.MachineID); err != nil {
		errors = append(errors, err.Error())
	}

	if err := ValidateComputerName(computer.Name); err != nil {
		errors = append(errors, err.Error())
	}

	// MAC is optional: kiosks without a non-loopback interface report none
	if computer.MACAddress != nil {
		normalizedMAC, err := ValidateMAC(*computer.MACAddress)
		if err != nil {
			errors = append(errors, err.Error())
		} else {
			computer.MACAddress = &normalizedMAC
		}
	}

	if err := ValidateKioskAddress(computer.IPAddress); err != nil {
		errors = append(errors, err.Error())
	}

	if computer.SlotNumber != "" {
		if _, err := ParseSlotNumber(computer.SlotNumber); err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
