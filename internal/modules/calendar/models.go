package calendar

import (
	"fmt"
	"time"
)

// Clock is a wall-clock time of day in the market time zone
type Clock struct {
	Hour   int // Hour (0-23)
	Minute int // Minute (0-59)
}

// hhmm returns the clock as an HHMM integer for minute-granularity comparisons
func (c Clock) hhmm() int {
	return c.Hour*100 + c.Minute
}

// On returns the instant of this clock on the calendar day of t, in t's location.
func (c Clock) On(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, t.Location())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Session is one continuous trading window
type Session struct {
	Open  Clock
	Close Clock
}

// Sessions holds the two daily trading windows separated by the lunch break
type Sessions struct {
	Morning   Session
	Afternoon Session
}

// DefaultSessions returns the A-share sessions used for polling: 09:15-11:30 and 13:00-15:30.
// The windows include the call auction and a settling margin after the close.
func DefaultSessions() Sessions {
	return Sessions{
		Morning:   Session{Open: Clock{9, 15}, Close: Clock{11, 30}},
		Afternoon: Session{Open: Clock{13, 0}, Close: Clock{15, 30}},
	}
}

// Contains reports whether the wall-clock time of t lies inside a session.
// Comparison is at minute granularity with both ends inclusive.
func (s Sessions) Contains(t time.Time) bool {
	now := t.Hour()*100 + t.Minute()
	return (now >= s.Morning.Open.hhmm() && now <= s.Morning.Close.hhmm()) ||
		(now >= s.Afternoon.Open.hhmm() && now <= s.Afternoon.Close.hhmm())
}

// DayStatus classifies one calendar day
type DayStatus string

const (
	DayTrading DayStatus = "trading"
	DayWeekend DayStatus = "weekend"
	DayHoliday DayStatus = "holiday"
	// DayMakeup is a weekend make-up workday: offices work, the market stays closed
	DayMakeup DayStatus = "makeup"
)

// Day is one entry of the month view
type Day struct {
	Date    string    `json:"date"`
	Weekday string    `json:"weekday"`
	Status  DayStatus `json:"status"`
	Name    string    `json:"name,omitempty"`
}

// Status summarizes the market state at an instant
type Status struct {
	Date           string `json:"date"`
	TradingDay     bool   `json:"trading_day"`
	TradingTime    bool   `json:"trading_time"`
	WeekendMakeup  bool   `json:"weekend_makeup"`
	LastTradingDay string `json:"last_trading_day"`
	Timezone       string `json:"timezone"`
}
