package accounts

import (
	"fmt"
	"regexp"
	"strings"
)

type Address struct {
	City     string `json:"city"`
	District string `json:"district"`
	State    string `json:"state"`
}

type SchoolProfile struct {
	Name            string  `json:"name"`
	ShortName       string  `json:"shortName"`
	LogoURL         string  `json:"logo"`
	Address         Address `json:"address"`
	Mobile          string  `json:"mobile"`
	AlternateMobile string  `json:"alternateMobile,omitempty"`
}

// Ten digit Indian mobile number.
var mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

// Normalize trims surrounding whitespace from every field.
func (p SchoolProfile) Normalize() SchoolProfile {
	p.Name = strings.TrimSpace(p.Name)
	p.ShortName = strings.TrimSpace(p.ShortName)
	p.LogoURL = strings.TrimSpace(p.LogoURL)
	p.Address.City = strings.TrimSpace(p.Address.City)
	p.Address.District = strings.TrimSpace(p.Address.District)
	p.Address.State = strings.TrimSpace(p.Address.State)
	p.Mobile = strings.TrimSpace(p.Mobile)
	p.AlternateMobile = strings.TrimSpace(p.AlternateMobile)
	return p
}

func (p SchoolProfile) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"name", p.Name},
		{"shortName", p.ShortName},
		{"address.city", p.Address.City},
		{"address.district", p.Address.District},
		{"address.state", p.Address.State},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidProfile, r.field)
		}
	}
	if !mobilePattern.MatchString(p.Mobile) {
		return fmt.Errorf("%w: mobile must be a 10 digit number starting with 6-9", ErrInvalidProfile)
	}
	if p.AlternateMobile != "" && !mobilePattern.MatchString(p.AlternateMobile) {
		return fmt.Errorf("%w: alternateMobile must be a 10 digit number starting with 6-9", ErrInvalidProfile)
	}
	return nil
}
