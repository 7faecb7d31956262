package session

import "errors"

var (
	// ErrEmptyWorklist means a session was requested for a user with no
	// assigned images.
	ErrEmptyWorklist = errors.New("no images assigned to this user")
	// ErrIncompleteForm blocks navigation until every field is set.
	ErrIncompleteForm = errors.New("annotation form is incomplete")
	// ErrSaveInFlight rejects a move while its category is still saving.
	ErrSaveInFlight = errors.New("save already in flight for this category")
	// ErrTooSoon rejects a move repeated within the debounce interval.
	ErrTooSoon = errors.New("navigation repeated too quickly")
	// ErrUnknownField rejects edits naming a key outside the schema.
	ErrUnknownField = errors.New("unknown form field")
	// ErrInvalidOption rejects values outside a field's allowed options.
	ErrInvalidOption = errors.New("value is not an allowed option")
	// ErrWrongCategory rejects a category that does not apply to the role.
	ErrWrongCategory = errors.New("navigation category does not apply to this role")
)
