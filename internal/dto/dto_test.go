package dto

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorCustomTags(t *testing.T) {
	v := NewValidator()

	ok := AttendancePolicyRequest{MinimumPercentage: 75, WarningPercentage: 85, CheckInDeadline: "21:30", MaxConsecutiveAbsences: 3, MaxLatePerWindow: 5}
	require.NoError(t, v.Struct(ok))

	bad := ok
	bad.WarningPercentage = 70
	bad.CheckInDeadline = "9:30pm"
	err := v.Struct(bad)
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := map[string]string{}
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	assert.Equal(t, "gtefield", fields["warning_percentage"])
	assert.Equal(t, "hhmm", fields["check_in_deadline"])
}

func TestApplyLeaveRequestDates(t *testing.T) {
	v := NewValidator()
	req := ApplyLeaveRequest{LeaveType: "CASUAL", FromDate: "2025-03-10", ToDate: "2025/03/12", Reason: "family function"}
	assert.Error(t, v.Struct(req))

	req.ToDate = "2025-03-12"
	assert.NoError(t, v.Struct(req))
}

func TestUpsertMenuRequiresItems(t *testing.T) {
	v := NewValidator()
	req := UpsertMenuRequest{HostelID: "5b0f3c1e-8a4e-4c55-9d7a-2f1f8d9e6a10", Date: "2025-03-10", MealType: "LUNCH"}
	assert.Error(t, v.Struct(req))

	req.Items = []string{"Rice", ""}
	assert.Error(t, v.Struct(req))

	req.Items = []string{"Rice", "Dal"}
	assert.NoError(t, v.Struct(req))
}

func TestParseOptionalDate(t *testing.T) {
	d, err := ParseOptionalDate("")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = ParseOptionalDate("2025-07-01")
	require.NoError(t, err)
	assert.Equal(t, 2025, d.Year())

	_, err = ParseOptionalDate("01-07-2025")
	assert.Error(t, err)
}
