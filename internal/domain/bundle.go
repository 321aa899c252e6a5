package domain

// BundleStatus is the relay-reported state of a submitted atomic bundle.
type BundleStatus string

const (
	BundleStatusPending BundleStatus = "pending"
	BundleStatusLanded  BundleStatus = "landed"
	BundleStatusFailed  BundleStatus = "failed"
	BundleStatusDropped BundleStatus = "dropped"
	BundleStatusInvalid BundleStatus = "invalid"
)

// Terminal reports whether the status will never change again.
func (s BundleStatus) Terminal() bool {
	return s == BundleStatusLanded || s == BundleStatusFailed ||
		s == BundleStatusDropped || s == BundleStatusInvalid
}
