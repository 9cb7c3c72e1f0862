package model

// ActivityRecord is one user's walking activity for one calendar day, as
// written by the tracking app. Several records may exist for the same
// (user, day) pair; aggregation sums them all.
type ActivityRecord struct {
	UserID   string  `json:"userId"`
	Date     string  `json:"date"` // YYYY-MM-DD
	Distance float64 `json:"distance"`
}

// UserProfile is the subset of the profile document the ranking job reads.
type UserProfile struct {
	DisplayName string `json:"displayName"`
}
