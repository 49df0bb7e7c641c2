package models

import (
	"fmt"
	"time"
)

// DateLayout is the layout of hire dates in roster files and exports.
const DateLayout = "2006-01-02"

// Tier is a prize level. Tier 1 is the most valuable prize.
type Tier int

const (
	TierFirst Tier = iota + 1
	TierSecond
	TierThird
	TierFourth
	TierFifth
)

// TierCount is the number of prize tiers.
const TierCount = 5

var tierLabels = [...]string{"一等奖", "二等奖", "三等奖", "四等奖", "五等奖"}

// Tiers returns every tier from the most to the least valuable.
func Tiers() []Tier {
	return []Tier{TierFirst, TierSecond, TierThird, TierFourth, TierFifth}
}

// Valid reports whether t is one of the five prize tiers.
func (t Tier) Valid() bool {
	return t >= TierFirst && t <= TierFifth
}

// Label returns the display name of the tier.
func (t Tier) Label() string {
	if !t.Valid() {
		return fmt.Sprintf("tier %d", int(t))
	}
	return tierLabels[t-1]
}

func (t Tier) String() string {
	return t.Label()
}

// Participant represents an employee entering the draw.
type Participant struct {
	EmployeeID string    `json:"employeeId"`
	Name       string    `json:"name"`
	HireDate   time.Time `json:"hireDate"`
}

// HireDateString formats the hire date the way the roster file does.
func (p Participant) HireDateString() string {
	return p.HireDate.Format(DateLayout)
}

// Winner links a participant to the tier they were drawn for.
// Winners are values and are never modified after a draw.
type Winner struct {
	Participant
	Tier    Tier      `json:"tier"`
	DrawnAt time.Time `json:"drawnAt"`
	RoundID string    `json:"roundId"`
}

// TierWinners groups the winners of one tier for display.
type TierWinners struct {
	Tier    Tier
	Winners []Winner
}

// RowIssue describes a roster row that was skipped while loading.
type RowIssue struct {
	Line   int    `json:"line"`
	Kind   error  `json:"-"`
	Detail string `json:"detail"`
}

func (i RowIssue) Error() string {
	return fmt.Sprintf("line %d: %v: %s", i.Line, i.Kind, i.Detail)
}

func (i RowIssue) Unwrap() error {
	return i.Kind
}
