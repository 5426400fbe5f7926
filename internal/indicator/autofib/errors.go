package autofib

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData indicates the series is shorter than lookback+offset
	ErrInsufficientData = errors.New("not enough bars")

	// ErrInvalidPriceData indicates non-positive or inverted window extremes
	ErrInvalidPriceData = errors.New("invalid price data")

	// ErrInvalidConfig indicates a lookback/offset the engine cannot work with
	ErrInvalidConfig = errors.New("invalid fibonacci config")
)

// InsufficientDataError carries how many bars were needed and how many were given
type InsufficientDataError struct {
	Required  int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: required=%d available=%d", ErrInsufficientData, e.Required, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientData) work
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// InvalidPriceDataError carries the offending window extremes
type InvalidPriceDataError struct {
	High float64
	Low  float64
}

func (e *InvalidPriceDataError) Error() string {
	return fmt.Sprintf("%s: high=%g low=%g", ErrInvalidPriceData, e.High, e.Low)
}

// Is makes errors.Is(err, ErrInvalidPriceData) work
func (e *InvalidPriceDataError) Is(target error) bool {
	return target == ErrInvalidPriceData
}
