package common

//go:generate go run github.com/dmarkham/enumer -json -sql -type Status -trimprefix Status

// Status of a job
type Status int

const (
	StatusNEW Status = iota
	StatusPENDING
	StatusDONE
	StatusFAILED
	StatusRETRY
)

// Final returns true if the job will not be processed again
func (s Status) Final() bool {
	return s == StatusDONE || s == StatusFAILED
}
