package models

// InquiryQuestion is one generated question shown to the user on the
// inquiry branch.
type InquiryQuestion struct {
	ID          int    `json:"id"`
	Question    string `json:"question"`
	Placeholder string `json:"placeholder"`
	Required    bool   `json:"required"`
}
