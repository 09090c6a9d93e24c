package calendar

// Calendar represents metadata about a calendar
type Calendar struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TimeZone    string `json:"timezone,omitempty"`
	Primary     bool   `json:"primary,omitempty"`
	AccessRole  string `json:"access_role,omitempty"`
}

// PrimaryCalendarID picks the calendar flagged primary, falling back to the
// provider alias "primary" when the list has none
func PrimaryCalendarID(calendars []*Calendar) string {
	for _, cal := range calendars {
		if cal.Primary && cal.ID != "" {
			return cal.ID
		}
	}
	return "primary"
}
