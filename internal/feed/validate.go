package feed

import (
	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/models"
)

const (
	FlagMissingID           = "missing_id"
	FlagNegativeCapacity    = "negative_capacity"
	FlagNegativeRentBikes   = "negative_rent_bikes"
	FlagNegativeReturnBikes = "negative_return_bikes"
	FlagInvalidCoordinate   = "invalid_coordinate"
)

// Validate flags out-of-range fields and clamps negative counts to zero.
// Invalid coordinates are flagged but left in place; proximity code skips them.
func Validate(st *models.Station) []string {
	var flags []string

	if st.ID == "" {
		flags = append(flags, FlagMissingID)
	}
	if st.Capacity < 0 {
		flags = append(flags, FlagNegativeCapacity)
		st.Capacity = 0
	}
	if st.AvailableRentBikes < 0 {
		flags = append(flags, FlagNegativeRentBikes)
		st.AvailableRentBikes = 0
	}
	if st.AvailableReturnBikes < 0 {
		flags = append(flags, FlagNegativeReturnBikes)
		st.AvailableReturnBikes = 0
	}
	if !geo.Valid(st.Position()) {
		flags = append(flags, FlagInvalidCoordinate)
	}

	return flags
}
