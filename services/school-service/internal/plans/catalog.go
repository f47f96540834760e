package plans

import (
	"errors"
	"fmt"
)

var ErrInvalidPlan = errors.New("invalid plan")

type Name string

const (
	Basic       Name = "Basic"
	Pro         Name = "Pro"
	Institution Name = "Institution"
)

type Duration string

const (
	Monthly Duration = "monthly"
	Yearly  Duration = "yearly"
)

func (d Duration) Valid() bool {
	return d == Monthly || d == Yearly
}

// Tier is a catalog entry. Prices are whole currency units.
type Tier struct {
	Name         Name     `json:"name"`
	Rank         int      `json:"rank"`
	MonthlyPrice int      `json:"monthlyPrice"`
	YearlyPrice  int      `json:"yearlyPrice"`
	SeatLimit    int      `json:"seatLimit"`
	Features     []string `json:"features"`
}

func (t Tier) clone() Tier {
	t.Features = append([]string(nil), t.Features...)
	return t
}

// These values are persisted on subscriptions and invoices; changing them
// does not rewrite history.
var catalog = [...]Tier{
	{
		Name: Basic, Rank: 1, MonthlyPrice: 499, YearlyPrice: 4999, SeatLimit: 2,
		Features: []string{
			"Create question papers (MCQs only)",
			"PDF/DOCX export",
			"Up to 5 GB file storage",
			"Text-based extraction",
			"Single user access",
		},
	},
	{
		Name: Pro, Rank: 2, MonthlyPrice: 999, YearlyPrice: 9999, SeatLimit: 5,
		Features: []string{
			"All Basic features",
			"AI-powered question generation (all types)",
			"Student Module (auto evaluation)",
			"20 GB cloud storage",
			"Multi-format input (PDF, DOCX, Image)",
			"Progress dashboards for students",
			"Parent & teacher view",
			"Email/chat support",
		},
	},
	{
		Name: Institution, Rank: 3, MonthlyPrice: 2499, YearlyPrice: 24999, SeatLimit: 10,
		Features: []string{
			"All Pro features",
			"Admin dashboard for school management",
			"Unlimited staff & students",
			"Custom branding + domains",
			"Priority support (24/7)",
			"Dedicated onboarding team",
		},
	},
}

// All returns the catalog ordered by rank.
func All() []Tier {
	out := make([]Tier, 0, len(catalog))
	for _, t := range catalog {
		out = append(out, t.clone())
	}
	return out
}

func Lookup(name Name) (Tier, error) {
	for _, t := range catalog {
		if t.Name == name {
			return t.clone(), nil
		}
	}
	return Tier{}, fmt.Errorf("%w: unknown plan %q", ErrInvalidPlan, name)
}

func ParseDuration(raw string) (Duration, error) {
	d := Duration(raw)
	if !d.Valid() {
		return "", fmt.Errorf("%w: unknown duration %q", ErrInvalidPlan, raw)
	}
	return d, nil
}

func (t Tier) Price(d Duration) (int, error) {
	switch d {
	case Monthly:
		return t.MonthlyPrice, nil
	case Yearly:
		return t.YearlyPrice, nil
	default:
		return 0, fmt.Errorf("%w: unknown duration %q", ErrInvalidPlan, d)
	}
}

func PriceOf(plan Name, d Duration) (int, error) {
	t, err := Lookup(plan)
	if err != nil {
		return 0, err
	}
	return t.Price(d)
}

func SeatLimitOf(plan Name) (int, error) {
	t, err := Lookup(plan)
	if err != nil {
		return 0, err
	}
	return t.SeatLimit, nil
}

func RankOf(plan Name) (int, error) {
	t, err := Lookup(plan)
	if err != nil {
		return 0, err
	}
	return t.Rank, nil
}
