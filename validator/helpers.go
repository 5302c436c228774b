package validator

// ValidateRequest validates a request that implements the Validatable interface.
// The returned error is a *httperrors.ValidationError.
func ValidateRequest(req Validatable) error {
	v := &Validator{}
	req.Validate(v)
	return v.Err()
}
