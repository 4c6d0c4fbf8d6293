package domain

import "time"

// Lot is a tracked inventory batch with an expiry date.
type Lot struct {
	ID           string
	TenantID     string
	DepartmentID string
	ProductName  string
	Quantity     float64
	Unit         string
	ExpiryDate   time.Time
}

// DaysUntilExpiry returns whole days from now until the lot's expiry date,
// negative when already expired. Computed on calendar days, not 24h windows.
func (l *Lot) DaysUntilExpiry(now time.Time) int {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := l.ExpiryDate.Date()
	today := time.Date(y1, m1, d1, 0, 0, 0, 0, now.Location())
	expiry := time.Date(y2, m2, d2, 0, 0, 0, 0, now.Location())
	return int(expiry.Sub(today).Hours() / 24)
}
