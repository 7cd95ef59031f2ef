package models

import "errors"

var (
	ErrNoRecord = errors.New("models: no matching record found")

	ErrInvalidCredentials = errors.New("models: invalid credentials")

	ErrDuplicateEmail = errors.New("models: duplicate email")

	// ErrInvalidCalibration reports sensor bounds with max_adc <= min_adc.
	ErrInvalidCalibration = errors.New("invalid calibration")

	// ErrAlreadyWatering reports that the shared pump is already committed to a stage.
	ErrAlreadyWatering = errors.New("already watering")

	// ErrHardwareFault reports an actuation that failed or ran out of its call budget.
	ErrHardwareFault = errors.New("hardware fault")

	// ErrInvalidCommand reports manual input rejected before any state was touched.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrNoData reports that no sample fell inside the requested window.
	// It is a distinct state and must never be read as zero.
	ErrNoData = errors.New("no data")
)
