package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrTopicRequired indicates a required topic field is empty.
	ErrTopicRequired = errors.New("topic is required")

	// ErrSceneDescriptionRequired indicates a scene with no description text.
	ErrSceneDescriptionRequired = errors.New("scene description is required")

	// ErrSceneImagePromptRequired indicates a scene with no image prompt.
	ErrSceneImagePromptRequired = errors.New("scene image prompt is required")

	// ErrSceneIndexOutOfRange indicates a scene index outside the storyboard.
	ErrSceneIndexOutOfRange = errors.New("scene index out of range")
)
