package dto

// CreateHostelRequest registers a hostel.
type CreateHostelRequest struct {
	Name     string  `json:"name" validate:"required,max=150"`
	Code     string  `json:"code" validate:"required,alphanum,max=20"`
	Address  string  `json:"address"`
	Capacity int     `json:"capacity" validate:"required,gt=0"`
	WardenID *string `json:"warden_id" validate:"omitempty,uuid4"`
}

// UpdateHostelRequest changes mutable hostel fields.
type UpdateHostelRequest struct {
	Name     string  `json:"name" validate:"required,max=150"`
	Address  string  `json:"address"`
	Capacity int     `json:"capacity" validate:"required,gt=0"`
	WardenID *string `json:"warden_id" validate:"omitempty,uuid4"`
	Active   *bool   `json:"active"`
}

// CreateStudentRequest enrols a STUDENT user into a hostel.
type CreateStudentRequest struct {
	UserID        string `json:"user_id" validate:"required,uuid4"`
	HostelID      string `json:"hostel_id" validate:"required,uuid4"`
	RollNumber    string `json:"roll_number" validate:"required,max=40"`
	RoomNumber    string `json:"room_number" validate:"max=20"`
	GuardianName  string `json:"guardian_name" validate:"max=150"`
	GuardianPhone string `json:"guardian_phone" validate:"omitempty,e164"`
}

// UpdateStudentRequest changes room or guardian details.
type UpdateStudentRequest struct {
	HostelID      string `json:"hostel_id" validate:"omitempty,uuid4"`
	RoomNumber    string `json:"room_number" validate:"max=20"`
	GuardianName  string `json:"guardian_name" validate:"max=150"`
	GuardianPhone string `json:"guardian_phone" validate:"omitempty,e164"`
}
