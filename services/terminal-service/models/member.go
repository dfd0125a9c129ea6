package models

// MemberAccount is looked up by phone number through the member service.
type MemberAccount struct {
	MemberID     string `json:"member_id"`
	PhoneNumber  string `json:"mobile_phone_no"`
	PointBalance int    `json:"current_balance"`
}
